// yeelightd discovers Yeelight lamps on the local network, keeps a live
// session to each one and exposes them over REST, WebSocket, MQTT and NATS.
//
// Run with -locate to list other controllers advertised over mDNS instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/Jeansidharta/yeelight-controller/migrations"

	"github.com/Jeansidharta/yeelight-controller/internal/api"
	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/device"
	"github.com/Jeansidharta/yeelight-controller/internal/discovery"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/announce"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/config"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/database"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/influxdb"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/logging"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/mqtt"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/natsbus"
	"github.com/Jeansidharta/yeelight-controller/internal/relay"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often old state history rows are deleted.
	pruneInterval = time.Hour

	// locateTimeout bounds an mDNS lookup run with -locate.
	locateTimeout = 3 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $YEELIGHT_CONFIG or "+defaultConfigPath+")")
	locateOnly := flag.Bool("locate", false, "list controllers advertised over mDNS and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if *locateOnly {
		err = locate(ctx, getConfigPath(*configPath))
	} else {
		err = run(ctx, getConfigPath(*configPath))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Deferred closes run in reverse start order.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting yeelightd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Persistence is optional: without it lamps are only known once they
	// announce themselves.
	var (
		db          *database.DB
		lampRepo    device.Repository
		historyRepo device.StateHistoryRepository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		lampRepo = device.NewSQLiteRepository(db.DB)
		historyRepo = device.NewSQLiteStateHistoryRepository(db.DB)
	} else {
		log.Info("database disabled")
	}

	registry := device.NewRegistry(device.RegistryConfig{
		Session:    sessionConfig(cfg),
		Repository: lampRepo,
	})
	registry.SetLogger(log)
	defer func() {
		log.Info("closing lamp registry")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing lamp registry", "error", closeErr)
		}
	}()

	if lampRepo != nil {
		if restoreErr := registry.Restore(ctx); restoreErr != nil {
			log.Warn("restoring known lamps", "error", restoreErr)
		}
		log.Info("lamp registry initialised", "lamps", registry.Count())
	}

	relayOpts := relay.Options{
		Registry: registry,
		Logger:   log,
	}
	// History is recorded by the relay; assigned only when present so the
	// interface is never a typed nil.
	if historyRepo != nil {
		relayOpts.History = historyRepo
		go pruneHistory(ctx, historyRepo, cfg.Database.HistoryRetention, log)
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		relayOpts.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.NATS.Enabled {
		natsClient, natsErr := natsbus.Connect(cfg.NATS)
		if natsErr != nil {
			return fmt.Errorf("connecting to NATS: %w", natsErr)
		}
		natsClient.SetLogger(log)
		defer func() {
			log.Info("closing NATS connection")
			if closeErr := natsClient.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		log.Info("NATS connected", "url", cfg.NATS.URL, "prefix", natsClient.Subjects().Prefix)
		relayOpts.NATS = natsClient
	} else {
		log.Info("NATS disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		relayOpts.Metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	lampRelay, err := relay.New(relayOpts)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	if err := lampRelay.Start(ctx); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	defer lampRelay.Stop()

	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Registry: registry,
		History:  historyRepo,
		Version:  version,
	}

	if cfg.Discovery.Enabled {
		listener, discErr := startDiscovery(ctx, cfg, registry, log)
		if discErr != nil {
			return discErr
		}
		defer func() {
			log.Info("stopping discovery")
			if closeErr := listener.Close(); closeErr != nil {
				log.Error("error closing discovery", "error", closeErr)
			}
		}()
		apiDeps.Discovery = listener
	} else {
		log.Info("discovery disabled")
	}

	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.MDNS.Enabled {
		advertiser, mdnsErr := announce.Advertise(cfg.MDNS, server.Port(), []string{
			"version=" + version,
			"api=/api/v1",
			"ws=" + cfg.WebSocket.Path,
		})
		if mdnsErr != nil {
			// Clients can still be pointed at the port by hand.
			log.Warn("mDNS advertisement failed", "error", mdnsErr)
		} else {
			defer func() {
				if closeErr := advertiser.Close(); closeErr != nil {
					log.Error("error closing mDNS", "error", closeErr)
				}
			}()
			log.Info("advertising over mDNS", "instance", advertiser.Instance(), "port", server.Port())
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	stats := lampRelay.Stats()
	log.Info("yeelightd stopped",
		"lamps", registry.Count(),
		"events_relayed", stats.EventsRelayed,
		"commands_handled", stats.CommandsHandled,
	)
	return nil
}

// getConfigPath returns the flag value, then YEELIGHT_CONFIG, then the
// default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("YEELIGHT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

func sessionConfig(cfg *config.Config) yeelight.SessionConfig {
	return yeelight.SessionConfig{
		Port:           cfg.Lamp.ControlPort,
		ConnectTimeout: cfg.Lamp.ConnectTimeoutDuration(),
		ConnectRetries: cfg.Lamp.ConnectRetries,
		CommandTimeout: cfg.Lamp.CommandTimeoutDuration(),
		Music: yeelight.MusicConfig{
			Host:     cfg.Music.Host,
			Port:     cfg.Music.Port,
			PortMin:  cfg.Music.PortMin,
			PortMax:  cfg.Music.PortMax,
			Attempts: cfg.Music.Attempts,
		},
	}
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", client.Topics().Prefix,
	)
	return client, nil
}

func startDiscovery(ctx context.Context, cfg *config.Config, registry *device.Registry, log *logging.Logger) (*discovery.Listener, error) {
	listener, err := discovery.NewListener(discovery.Config{
		MulticastAddress: cfg.Discovery.MulticastAddress,
		ProbePort:        cfg.Discovery.ProbePort,
		TTL:              cfg.Discovery.TTL,
		Interface:        cfg.Discovery.Interface,
		ProbeInterval:    time.Duration(cfg.Discovery.ProbeInterval) * time.Second,
		ListenNotify:     true,
	}, registry)
	if err != nil {
		return nil, fmt.Errorf("creating discovery listener: %w", err)
	}
	listener.SetLogger(log)

	if err := listener.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting discovery: %w", err)
	}
	log.Info("discovery started", "group", cfg.Discovery.MulticastAddress)
	return listener, nil
}

// pruneHistory deletes state history older than retentionDays once at
// start and then every pruneInterval. A retention of 0 keeps everything.
func pruneHistory(ctx context.Context, history device.StateHistoryRepository, retentionDays int, log *logging.Logger) {
	if retentionDays <= 0 {
		return
	}
	maxAge := time.Duration(retentionDays) * 24 * time.Hour

	prune := func() {
		removed, err := history.Prune(ctx, maxAge)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("pruning state history", "error", err)
		case removed > 0:
			log.Info("state history pruned", "removed", removed)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// locate prints every controller found over mDNS.
func locate(ctx context.Context, configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	controllers, err := announce.Lookup(ctx, cfg.MDNS, locateTimeout)
	if err != nil {
		return fmt.Errorf("looking up controllers: %w", err)
	}
	if len(controllers) == 0 {
		fmt.Println("no controllers found")
		return nil
	}
	for _, c := range controllers {
		fmt.Printf("%s\t%s:%d\t%v\n", c.Name, c.Address, c.Port, c.TXT)
	}
	return nil
}
