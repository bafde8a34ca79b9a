package db

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

var DB *sql.DB

// MySQLDSN builds the DSN used by Initialize for the mysql driver.
func MySQLDSN(user, password, host string, port int, name string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, password, host, port, name)
}

// Initialize opens the configured database, creates the schema and stores
// the handle in DB.
func Initialize(driver, dsn string) error {
	conn, err := Open(driver, dsn)
	if err != nil {
		return err
	}
	DB = conn
	log.Println("Database initialized successfully")
	return nil
}

// Open connects to driver/dsn and makes sure every table exists. For mysql
// the database itself is created first.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL:
		if err := createMySQLDatabase(dsn); err != nil {
			return nil, err
		}
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY between pooled connections
		conn.SetMaxOpenConns(1)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return conn, nil
}

func createMySQLDatabase(dsn string) error {
	// Parse DSN to extract database name
	parts := strings.SplitN(dsn, "/", 2)
	if len(parts) < 2 {
		return fmt.Errorf("invalid DSN format")
	}

	nameAndParams := strings.SplitN(parts[1], "?", 2)
	dbName := nameAndParams[0]
	baseDSN := parts[0] + "/"
	if len(nameAndParams) == 2 {
		baseDSN += "?" + nameAndParams[1]
	}

	tempDB, err := sql.Open(DriverMySQL, baseDSN)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer tempDB.Close()

	if _, err := tempDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName)); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

func createTables(conn *sql.DB, driver string) error {
	queries := mysqlSchema
	if driver == DriverSQLite {
		queries = sqliteSchema
	}

	for _, query := range queries {
		if _, err := conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS pbx_connections (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		company_id VARCHAR(64) NOT NULL,
		employee_id VARCHAR(64) NOT NULL DEFAULT '',
		endpoint_url VARCHAR(512) NOT NULL,
		tenant_id VARCHAR(100) NOT NULL,
		api_key VARCHAR(255) NOT NULL,
		extension VARCHAR(32) NOT NULL DEFAULT '',
		active BOOLEAN DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY unique_owner (company_id, employee_id),
		INDEX idx_company (company_id)
	)`,

	`CREATE TABLE IF NOT EXISTS call_logs (
		id VARCHAR(36) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		company_id VARCHAR(64) NOT NULL,
		employee_id VARCHAR(64) NOT NULL,
		call_type VARCHAR(16) NOT NULL,
		phone_number VARCHAR(32) NOT NULL,
		customer_name VARCHAR(255),
		customer_id VARCHAR(64),
		duration_seconds INT NOT NULL DEFAULT 0,
		call_status VARCHAR(16) NOT NULL,
		recording_url VARCHAR(512),
		notes TEXT,
		start_time DATETIME NOT NULL,
		end_time DATETIME NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY unique_session (session_id),
		INDEX idx_company (company_id),
		INDEX idx_employee (employee_id),
		INDEX idx_start_time (start_time)
	)`,

	`CREATE TABLE IF NOT EXISTS dialect_stats (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		tenant_id VARCHAR(100) NOT NULL,
		intent VARCHAR(8) NOT NULL,
		attempt_name VARCHAR(100) NOT NULL,
		total_attempts BIGINT DEFAULT 0,
		successes BIGINT DEFAULT 0,
		failures BIGINT DEFAULT 0,
		success_rate DECIMAL(5,2) DEFAULT 0,
		last_status INT DEFAULT 0,
		last_attempt_at DATETIME NULL,
		last_success_at DATETIME NULL,
		UNIQUE KEY unique_dialect (tenant_id, intent, attempt_name)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pbx_connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id TEXT NOT NULL,
		employee_id TEXT NOT NULL DEFAULT '',
		endpoint_url TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		api_key TEXT NOT NULL,
		extension TEXT NOT NULL DEFAULT '',
		active BOOLEAN DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (company_id, employee_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pbx_connections_company ON pbx_connections(company_id)`,

	`CREATE TABLE IF NOT EXISTS call_logs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		company_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		call_type TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		customer_name TEXT,
		customer_id TEXT,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		call_status TEXT NOT NULL,
		recording_url TEXT,
		notes TEXT,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_company ON call_logs(company_id)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_employee ON call_logs(employee_id)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_start_time ON call_logs(start_time)`,

	`CREATE TABLE IF NOT EXISTS dialect_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		intent TEXT NOT NULL,
		attempt_name TEXT NOT NULL,
		total_attempts INTEGER DEFAULT 0,
		successes INTEGER DEFAULT 0,
		failures INTEGER DEFAULT 0,
		success_rate REAL DEFAULT 0,
		last_status INTEGER DEFAULT 0,
		last_attempt_at DATETIME,
		last_success_at DATETIME,
		UNIQUE (tenant_id, intent, attempt_name)
	)`,
}

func Close() {
	if DB != nil {
		DB.Close()
	}
}
