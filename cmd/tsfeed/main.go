// tsfeed samples host or sensor readings on a fixed interval and streams
// them to a tsstore instance over its line protocol.
//
// Delivery is best effort: a failed write drops that sample, the client
// reconnects with exponential backoff, and the loop keeps running until
// SIGINT or SIGTERM. Everything besides the store (journal, MQTT status,
// InfluxDB mirror, HTTP status server) is optional and never blocks delivery.
//
// With --dry-run the records are printed to stdout in wire format and no
// store connection or credentials are needed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tsfeed/internal/api"
	"github.com/nerrad567/tsfeed/internal/collector"
	"github.com/nerrad567/tsfeed/internal/infrastructure/config"
	"github.com/nerrad567/tsfeed/internal/infrastructure/database"
	"github.com/nerrad567/tsfeed/internal/infrastructure/influxdb"
	"github.com/nerrad567/tsfeed/internal/infrastructure/logging"
	"github.com/nerrad567/tsfeed/internal/infrastructure/metrics"
	"github.com/nerrad567/tsfeed/internal/infrastructure/mqtt"
	"github.com/nerrad567/tsfeed/internal/journal"
	"github.com/nerrad567/tsfeed/internal/sampler"
	"github.com/nerrad567/tsfeed/internal/status"
	"github.com/nerrad567/tsfeed/internal/tsstore"
	"github.com/nerrad567/tsfeed/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags. Flags override the config file and
// the environment.
type options struct {
	configPath  string
	endpoint    string
	store       string
	interval    float64
	dryRun      bool
	showVersion bool

	fs *pflag.FlagSet
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("tsfeed", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file (env TSFEED_CONFIG)")
	fs.StringVar(&opts.endpoint, "endpoint", "", "tsstore socket path or tcp://host:port")
	fs.StringVar(&opts.store, "store", "", "tsstore store name")
	fs.Float64Var(&opts.interval, "interval", 0, "sample interval in seconds, fractions allowed (0.5 = 2 Hz)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "print encoded records to stdout instead of sending them")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.fs = fs
	return opts, nil
}

// apply copies the flags that were set onto cfg.
func (o *options) apply(cfg *config.Config) {
	if o.fs.Changed("endpoint") {
		cfg.Store.Endpoint = o.endpoint
	}
	if o.fs.Changed("store") {
		cfg.Store.StoreName = o.store
	}
	if o.fs.Changed("interval") {
		cfg.Collector.Interval = o.interval
	}
	if o.dryRun {
		// stdout carries the records; everything else stays off.
		cfg.Logging.Output = "stderr"
		cfg.Database.Enabled = false
		cfg.MQTT.Enabled = false
		cfg.InfluxDB.Enabled = false
		cfg.Status.Enabled = false
	}
}

// getConfigPath returns the config file to load. An empty result means
// defaults plus environment only.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("TSFEED_CONFIG")
}

// loadConfig resolves configuration from file, environment and flags.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(getConfigPath(opts.configPath))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	opts.apply(cfg)
	validate := cfg.Validate
	if opts.dryRun {
		validate = cfg.ValidateOffline
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean, signal-driven shutdown.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "tsfeed %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting tsfeed",
		"version", version,
		"commit", commit,
		"build_date", date,
		"endpoint", cfg.Store.Endpoint,
		"store", cfg.Store.StoreName,
		"interval", cfg.Interval().String(),
	)

	src, err := newSampler(cfg.Sampler)
	if err != nil {
		return fmt.Errorf("creating sampler: %w", err)
	}

	if opts.dryRun {
		log.Info("dry run, printing records to stdout")
		c := collector.New(collector.Config{
			Interval:    cfg.Interval(),
			StatusEvery: cfg.Collector.StatusEvery,
		}, collector.NewPrintClient(stdout, nil), src,
			collector.WithLogger(log.Component("collector")))
		return c.Run(ctx)
	}

	client, err := tsstore.New(tsstore.Config{
		Endpoint:       cfg.Store.Endpoint,
		StoreName:      cfg.Store.StoreName,
		APIKey:         cfg.Store.APIKey,
		ConnectTimeout: cfg.ConnectTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
	}, nil)
	if err != nil {
		return fmt.Errorf("creating tsstore client: %w", err)
	}
	client.SetLogger(log.Component("tsstore"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	observers := []collector.Observer{m}

	apiDeps := api.Deps{
		Config:   cfg.Status,
		Logger:   log.Component("api"),
		Version:  version,
		Store:    cfg.Store.StoreName,
		Gatherer: registry,
		Sinks:    make(map[string]api.HealthChecker),
	}

	// Delivery journal (optional)
	var history *journal.Journal
	if cfg.Database.Enabled {
		db, jnl, dbErr := openJournal(ctx, cfg, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		observers = append(observers, jnl)
		apiDeps.Database = db
		apiDeps.History = jnl
		history = jnl
	} else {
		log.Info("delivery journal disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	if history != nil && cfg.Database.RetentionDays > 0 {
		retention := cfg.Retention()
		g.Go(func() error { return history.RunPruner(gctx, retention, journal.DefaultPruneInterval) })
	}

	// MQTT status publishing (optional)
	if cfg.MQTT.Enabled {
		mqttClient, reporter, mqttErr := connectMQTT(cfg, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		observers = append(observers, reporter)
		apiDeps.Sinks["mqtt"] = mqttClient
		g.Go(func() error { return reporter.Run(gctx) })
	} else {
		log.Info("MQTT status publishing disabled")
	}

	// InfluxDB mirror (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxLog := log.Component("influxdb")
		influxClient.SetOnError(func(err error) {
			influxLog.Warn("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		observers = append(observers, status.NewInfluxMirror(influxClient, cfg.Store.StoreName))
		apiDeps.Sinks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB mirror disabled")
	}

	collectorOpts := []collector.Option{collector.WithLogger(log.Component("collector"))}
	for _, o := range observers {
		collectorOpts = append(collectorOpts, collector.WithObserver(o))
	}
	c := collector.New(collector.Config{
		Interval:    cfg.Interval(),
		StatusEvery: cfg.Collector.StatusEvery,
	}, client, src, collectorOpts...)

	g.Go(func() error { return c.Run(gctx) })

	if cfg.Status.Enabled {
		apiDeps.Collector = c
		server, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating status server: %w", apiErr)
		}
		// The status server is a sidecar: a bind or serve failure is logged
		// and must not cancel gctx, or it would stop delivery.
		g.Go(func() error {
			if err := server.Run(gctx); err != nil {
				log.Error("status server stopped, delivery continues", "addr", cfg.Status.Addr, "error", err)
			}
			return nil
		})
	} else {
		log.Info("status server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("tsfeed stopped", "delivered", c.Snapshot().Delivered)
	return nil
}

// newSampler builds the configured sampler.
func newSampler(cfg config.SamplerConfig) (sampler.Sampler, error) {
	switch cfg.Kind {
	case "", "system":
		return sampler.NewSystem(sampler.SystemConfig{
			ProcRoot: cfg.System.ProcRoot,
			SysRoot:  cfg.System.SysRoot,
			DiskPath: cfg.System.DiskPath,
		}), nil
	case "environment":
		sensors := make([]sampler.Sensor, 0, len(cfg.Environment.Sensors))
		for _, s := range cfg.Environment.Sensors {
			sensors = append(sensors, sampler.Sensor{
				Field:     s.Field,
				Path:      s.Path,
				Scale:     s.Scale,
				Offset:    s.Offset,
				Precision: s.Precision,
			})
		}
		env, err := sampler.NewEnvironment(sensors)
		if err != nil {
			return nil, err
		}
		return env, nil
	default:
		return nil, fmt.Errorf("unknown sampler kind %q", cfg.Kind)
	}
}

// openJournal opens and migrates the journal database and closes any
// sessions a previous process left open.
func openJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *journal.Journal, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	jnl := journal.New(db, cfg.Store.StoreName, cfg.Store.Endpoint, log.Component("journal"))
	n, err := jnl.CloseStale(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("closing stale sessions: %w", err)
	}
	log.Info("delivery journal ready", "path", cfg.Database.Path, "abandoned_sessions", n)

	return db, jnl, nil
}

// connectMQTT connects the status publisher. The reporter republishes its
// document whenever the broker connection is re-established.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, *status.MQTTReporter, error) {
	topics := mqtt.Topics{Store: cfg.Store.StoreName}
	client, err := mqtt.Connect(cfg.MQTT, topics.Status())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}

	mqttLog := log.Component("mqtt")
	client.SetLogger(mqttLog)

	reporter := status.NewMQTTReporter(client, cfg.Store.StoreName, mqttLog)
	client.SetOnConnect(func() {
		mqttLog.Info("MQTT connected")
		reporter.Republish()
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic", topics.Status(),
	)
	return client, reporter, nil
}
