package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/husobiker/qrcard-sub003/internal/db"
)

const DefaultFile = "configs/gateway.yaml"

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Session  SessionConfig  `mapstructure:"session"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
}

// DSN returns the data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == db.DriverSQLite {
		return d.Path
	}
	return db.MySQLDSN(d.User, d.Password, d.Host, d.Port, d.Name)
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type GatewayConfig struct {
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	CatalogFile    string        `mapstructure:"catalog_file"`
}

type SessionConfig struct {
	RingTimeout   time.Duration `mapstructure:"ring_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// MQTTConfig configures session event publishing. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", db.DriverMySQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "pbx_gateway")
	v.SetDefault("database.path", "pbx_gateway.db")
	v.SetDefault("http.port", 8080)
	v.SetDefault("gateway.attempt_timeout", 15*time.Second)
	v.SetDefault("gateway.catalog_file", "")
	v.SetDefault("session.ring_timeout", 45*time.Second)
	v.SetDefault("session.sweep_interval", 5*time.Second)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "pbx-gateway")
	v.SetDefault("mqtt.topic_prefix", "pbx-gateway")
	v.SetDefault("mqtt.qos", 1)
}

// Load reads path, then applies PBXGW_* environment overrides such as
// PBXGW_DATABASE_HOST. A missing file only logs a warning.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PBXGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			log.Printf("Warning: Could not read config file: %v", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case db.DriverMySQL:
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required for mysql")
		}
	case db.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", db.DriverMySQL, db.DriverSQLite, c.Database.Driver)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Gateway.AttemptTimeout <= 0 {
		return fmt.Errorf("gateway.attempt_timeout must be positive")
	}
	if c.Session.RingTimeout <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.ring_timeout and session.sweep_interval must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required when mqtt.broker is set")
	}
	return nil
}
