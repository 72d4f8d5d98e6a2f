// Lithium Store - persistence service for the Lithium imaging suite.
//
// lithium-store opens the SQLite store, brings its schema up to date and
// keeps the shared TTL cache running. When configured it also:
//   - publishes table write events and cache invalidations over MQTT
//   - writes cache and table operation telemetry to InfluxDB
//   - serves an admin HTTP API with Prometheus metrics
//
// Usage:
//
//	lithium-store -config configs/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lithium-next/lithium-core/internal/api"
	"github.com/lithium-next/lithium-core/internal/cache"
	"github.com/lithium-next/lithium-core/internal/infrastructure/config"
	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
	"github.com/lithium-next/lithium-core/internal/infrastructure/influxdb"
	"github.com/lithium-next/lithium-core/internal/infrastructure/logging"
	"github.com/lithium-next/lithium-core/internal/infrastructure/mqtt"
	"github.com/lithium-next/lithium-core/internal/orm"
	"github.com/lithium-next/lithium-core/internal/records"
	"github.com/lithium-next/lithium-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configEnv names the config file when -config is not given.
const configEnv = "LITHIUM_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command line settings.
type options struct {
	configPath  string
	migrateOnly bool
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("lithium-store", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv(configEnv), "path to the YAML config file (defaults only when empty)")
	fs.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply pending migrations and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("lithium-store %s (%s, %s) sqlite %s\n", version, commit, date, database.Version())
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting Lithium store",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	conn, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if cfg.Database.ReadOnly {
		log.Info("read-only store, skipping migrations")
	} else {
		applied, migrateErr := conn.Migrate(ctx, migrations.FS, migrations.Dir)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete", "applied", applied)
	}
	if opts.migrateOnly {
		return nil
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	cacheOpts := []cache.Option{
		cache.WithDefaultTTL(cfg.GetCacheTTL()),
		cache.WithPurgeInterval(cfg.GetPurgeInterval()),
		cache.WithLogger(log.Component("cache")),
		cache.WithRegisterer(prometheus.DefaultRegisterer),
	}
	if influxClient != nil {
		cacheOpts = append(cacheOpts, cache.WithStatsSink(influxClient))
	}
	store := cache.Instance(cacheOpts...)
	defer func() {
		log.Info("stopping cache reaper")
		cache.Shutdown()
	}()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = startMQTT(cfg, store, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	tableOpts := []orm.TableOption{orm.WithLogger(log.Component("orm"))}
	if obs := observers(mqttClient, influxClient, byte(cfg.MQTT.QoS), log); len(obs) > 0 {
		tableOpts = append(tableOpts, orm.WithObserver(obs))
	}

	deviceOpts := []records.DeviceConfigOption{records.WithTableOptions(tableOpts...)}
	if mqttClient != nil {
		deviceOpts = append(deviceOpts, records.WithRemoteInvalidation(func(inv cache.Invalidation) {
			if pubErr := mqtt.PublishInvalidation(mqttClient, byte(cfg.MQTT.QoS), inv); pubErr != nil {
				log.Warn("publishing cache invalidation failed", "error", pubErr)
			}
		}))
	}
	sequences := records.NewSequenceRepository(conn, tableOpts...)
	devices := records.NewDeviceConfigRepository(conn, store, deviceOpts...)

	seqCount, err := sequences.Count(ctx, "")
	if err != nil {
		return fmt.Errorf("counting sequences: %w", err)
	}
	enabled, err := devices.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading device configs: %w", err)
	}
	for _, d := range enabled {
		// Warm the cache with the configurations a session will ask for.
		if _, getErr := devices.Get(ctx, d.ID); getErr != nil {
			log.Warn("warming device config failed", "id", d.ID, "error", getErr)
		}
	}
	log.Info("records loaded", "sequences", seqCount, "enabled_devices", len(enabled))

	// Last use of conn from this goroutine: once the API is up, its
	// handlers own the connection behind their store lock.
	if err := healthCheck(ctx, conn, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, apiDeps{
			conn:      conn,
			cache:     store,
			sequences: sequences,
			devices:   devices,
			mqtt:      mqttClient,
		}, log)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if influxClient != nil {
		influxClient.WriteCacheStats(store.Stats())
		influxClient.Flush()
	}
	// Deferred closes run in reverse: API, MQTT, cache, InfluxDB, database.
	log.Info("Lithium store stopped")
	return nil
}

// openStore opens the database described by cfg.Database.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.Connection, error) {
	flags := database.DefaultOpenFlags
	if cfg.Database.ReadOnly {
		flags = database.OpenReadOnly
	}

	conn, err := database.Open(ctx, cfg.Database.Path, flags,
		database.WithLogger(log.Component("database")),
		database.WithBusyTimeout(cfg.GetBusyTimeout()),
		database.WithPragmas(cfg.Database.EffectivePragmas()),
	)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database opened",
		"path", cfg.Database.Path,
		"read_only", cfg.Database.ReadOnly,
		"sqlite", database.Version(),
	)
	return conn, nil
}

// startMQTT connects to the broker and subscribes store to invalidation
// messages from other processes.
func startMQTT(cfg *config.Config, store *cache.Manager, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := client.SubscribeInvalidation(store); err != nil {
		client.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("subscribing to cache invalidations: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// observers collects the table observers for the enabled integrations.
func observers(mqttClient *mqtt.Client, influxClient *influxdb.Client, qos byte, log *logging.Logger) orm.Observers {
	var obs orm.Observers
	if mqttClient != nil {
		obs = append(obs, mqtt.NewTableNotifier(mqttClient, qos, log.Component("notifier")))
	}
	if influxClient != nil {
		obs = append(obs, influxClient)
	}
	return obs
}

// apiDeps are the store handles the admin API serves.
type apiDeps struct {
	conn      *database.Connection
	cache     *cache.Manager
	sequences *records.SequenceRepository
	devices   *records.DeviceConfigRepository
	mqtt      *mqtt.Client
}

// startAPI starts the admin HTTP server. Cache invalidations received over
// HTTP are forwarded to other processes when MQTT is connected.
func startAPI(ctx context.Context, cfg *config.Config, deps apiDeps, log *logging.Logger) (*api.Server, error) {
	var forward func(cache.Invalidation)
	if deps.mqtt != nil {
		forward = func(inv cache.Invalidation) {
			if err := mqtt.PublishInvalidation(deps.mqtt, byte(cfg.MQTT.QoS), inv); err != nil {
				log.Warn("forwarding cache invalidation failed", "error", err)
			}
		}
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Metrics:      cfg.Metrics,
		Logger:       log.Component("api"),
		Conn:         deps.conn,
		Cache:        deps.cache,
		Sequences:    deps.sequences,
		Devices:      deps.devices,
		OnInvalidate: forward,
		Version:      version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started", "address", server.Addr(), "metrics", cfg.Metrics.Enabled)
	return server, nil
}

// healthCheck verifies every open connection.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - conn: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, conn *database.Connection, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := conn.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
