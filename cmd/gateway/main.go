package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/husobiker/qrcard-sub003/internal/api"
	"github.com/husobiker/qrcard-sub003/internal/calllog"
	"github.com/husobiker/qrcard-sub003/internal/cli"
	"github.com/husobiker/qrcard-sub003/internal/config"
	"github.com/husobiker/qrcard-sub003/internal/connection"
	"github.com/husobiker/qrcard-sub003/internal/db"
	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/events"
	"github.com/husobiker/qrcard-sub003/internal/gateway"
	"github.com/husobiker/qrcard-sub003/internal/session"
	"github.com/husobiker/qrcard-sub003/internal/stats"
)

const version = "1.0.0"

func main() {
	var (
		configFile  = flag.String("config", config.DefaultFile, "Configuration file path")
		initDB      = flag.Bool("init-db", false, "Initialize database")
		serve       = flag.Bool("serve", false, "Run the HTTP API")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showHelp    = flag.Bool("help", false, "Show help")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showHelp {
		showUsage()
		return
	}

	if *showVersion {
		fmt.Printf("PBX Call Gateway v%s\n", version)
		return
	}

	if *verbose {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	} else {
		log.SetFlags(log.Ldate | log.Ltime)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := db.Initialize(cfg.Database.Driver, cfg.Database.DSN()); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if *initDB {
		fmt.Println("Database initialized successfully!")
		fmt.Println("\nNext steps:")
		fmt.Println("1. Add a company PBX connection:")
		fmt.Println("   ./gateway pbx add -c <company> -u https://pbx.example.com -s <santral-id> -k <api-key>")
		fmt.Println("2. Place a test call:")
		fmt.Println("   ./gateway call start 905551112233 -c <company>")
		fmt.Println("3. Start the HTTP API:")
		fmt.Println("   ./gateway -serve -verbose")
		return
	}

	catalog := dialect.DefaultCatalog()
	if cfg.Gateway.CatalogFile != "" {
		catalog, err = dialect.LoadCatalog(cfg.Gateway.CatalogFile)
		if err != nil {
			log.Fatalf("Failed to load endpoint catalog: %v", err)
		}
		log.Printf("Loaded endpoint catalog from %s", cfg.Gateway.CatalogFile)
	}

	tracker := stats.NewTracker(db.DB)
	defer tracker.Close()
	prober := dialect.NewProber(
		dialect.WithAttemptTimeout(cfg.Gateway.AttemptTimeout),
		dialect.WithObserver(tracker),
	)
	gw := gateway.New(prober, catalog)
	conns := connection.NewManager(db.DB)
	logs := calllog.NewStore(db.DB)

	if *serve {
		runServer(cfg, gw, conns, logs)
		return
	}

	runCLI(cli.Deps{Connections: conns, Gateway: gw, Logs: logs, Stats: tracker})
}

func runServer(cfg *config.Config, gw *gateway.Gateway, conns *connection.Manager, logs *calllog.Store) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher events.Publisher = events.Nop{}
	if cfg.MQTT.Broker != "" {
		p, err := events.NewMQTTPublisher(events.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			log.Printf("Warning: Failed to connect to MQTT: %v", err)
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	manager := session.NewManager(session.Deps{
		Gateway:     gw,
		Resolver:    conns,
		Logs:        logs,
		Events:      publisher,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, cfg.Session.RingTimeout)
	go manager.Run(ctx, cfg.Session.SweepInterval)

	fmt.Printf("PBX Call Gateway listening on :%d. Press Ctrl+C to stop.\n", cfg.HTTP.Port)

	err := api.Start(ctx, api.Options{
		Gateway:  gw,
		Sessions: manager,
		Logs:     logs,
		Port:     cfg.HTTP.Port,
	})
	if err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
	log.Println("Shutting down...")
}

func runCLI(deps cli.Deps) {
	rootCmd := cli.InitCLI(deps)
	rootCmd.SetArgs(flag.Args())
	if err := cli.Execute(context.Background(), rootCmd); err != nil {
		deps.Stats.Close()
		db.Close()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`PBX Call Gateway

USAGE:
    gateway [flags] <command> [arguments]

FLAGS:
    -serve          Run the HTTP API
    -init-db        Initialize database
    -verbose        Enable verbose logging
    -config <file>  Configuration file (default: configs/gateway.yaml)
    -help           Show this help
    -version        Show version

COMMANDS:
    pbx             Manage PBX connections
    call            Start or end a call through the gateway
    logs            Inspect call logs
    dialects        Inspect the endpoint catalog and its statistics

EXAMPLES:
    # Initialize database
    ./gateway -init-db

    # Add a company-wide connection and an employee override
    ./gateway pbx add -c acme -u https://pbx.example.com -s 1042 -k KEY
    ./gateway pbx add -c acme -e emp-7 -u https://pbx.example.com -s 1042 -k KEY -x 204

    # Place and end a call
    ./gateway call start 905551112233 -c acme -e emp-7
    ./gateway call end 8f2c -c acme -e emp-7

    # Call history
    ./gateway logs list -c acme --limit 50
    ./gateway logs stats -c acme

    # Which endpoint forms each santral answers
    ./gateway dialects stats -s 1042

    # Run the HTTP API
    ./gateway -serve -verbose

For more information on a command, use:
    ./gateway <command> --help`)
}
