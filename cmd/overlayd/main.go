// SCADA Overlay - live values for vector dashboard overlays
//
// overlayd loads a vector overlay, binds its elements to telemetry and
// attribute keys on a ThingsBoard-style backend, and serves the rendered
// values over HTTP and WebSocket. Reads go through a coalescing cache so
// many elements bound to the same key cost one backend request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/scada-overlay/migrations"

	"github.com/nerrad567/scada-overlay/internal/api"
	"github.com/nerrad567/scada-overlay/internal/cache"
	"github.com/nerrad567/scada-overlay/internal/derived"
	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/database"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/influxdb"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/logging"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/mqtt"
	"github.com/nerrad567/scada-overlay/internal/invalidation"
	"github.com/nerrad567/scada-overlay/internal/overlay"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SCADA overlay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	registry := entity.NewRegistry(entity.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("entity"))
	if seedErr := registry.Seed(ctx, bindingsFromConfig(cfg.Bindings)); seedErr != nil {
		return fmt.Errorf("loading bindings: %w", seedErr)
	}
	log.Info("binding registry initialised", "bindings", registry.Count())
	resolver := entity.NewResolver(registry)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend := newBackendClient(cfg, log)

	readCache, err := newCache(cfg, resolver, backend, reg, log)
	if err != nil {
		return err
	}
	defer readCache.Close()

	health := map[string]api.HealthChecker{"database": db}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, push invalidation off")
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
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	pipeline, err := newPipeline(cfg, readCache, backend, resolver, mqttClient, influxClient, reg, log)
	if err != nil {
		return err
	}

	hub := api.NewHub(log.Component("websocket"))
	widget, err := newWidget(cfg, readCache, resolver, hub, pipeline, mqttClient, log)
	if err != nil {
		return err
	}
	defer widget.Teardown()

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Cache:    readCache,
		Widget:   widget,
		Hub:      hub,
		Bindings: registry,
		Health:   health,
		Gatherer: reg,
		Version:  version,
	}
	if pipeline != nil {
		deps.Derived = pipeline
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// A failed load leaves the widget not ready; /health reports it and
	// POST /invalidate is refused until a restart.
	if initErr := widget.Initialize(ctx); initErr != nil {
		log.Error("overlay initialisation failed", "source", cfg.Overlay.SourceURL, "error", initErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

func getConfigPath() string {
	if path := os.Getenv("OVERLAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func bindingsFromConfig(cfgs []config.BindingConfig) []entity.Binding {
	bindings := make([]entity.Binding, 0, len(cfgs))
	for _, b := range cfgs {
		bindings = append(bindings, entity.Binding{
			Name: b.Name,
			Ref:  entity.Ref{ID: b.EntityID, EntityType: b.EntityType},
		})
	}
	return bindings
}

// newBackendClient builds the REST client. The credential is the first
// usable token among the configured value and the listed variables.
func newBackendClient(cfg *config.Config, log *logging.Logger) *telemetry.Client {
	candidates := []telemetry.TokenCandidate{telemetry.FromValue(cfg.Backend.Token)}
	for _, name := range cfg.Backend.TokenEnv {
		candidates = append(candidates, telemetry.FromEnv(name))
	}

	return telemetry.NewClient(cfg.Backend.BaseURL, cfg.GetBackendTimeout(),
		telemetry.WithCredentials(telemetry.NewTokenSource(candidates...)),
		telemetry.WithLogger(log.Component("backend")),
	)
}

func newCache(cfg *config.Config, resolver cache.EntityResolver, reader cache.Reader, reg prometheus.Registerer, log *logging.Logger) (*cache.Coalescer, error) {
	policy, err := cache.ParseThrottlePolicy(cfg.Overlay.ThrottlePolicy)
	if err != nil {
		return nil, fmt.Errorf("configuring cache: %w", err)
	}
	metrics, err := cache.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering cache metrics: %w", err)
	}

	return cache.New(resolver, reader, cache.Config{
		FirstReadWindow: time.Duration(cfg.Overlay.FirstReadWindowMS) * time.Millisecond,
		RefreshWindow:   time.Duration(cfg.Overlay.RefreshWindowMS) * time.Millisecond,
		Policy:          policy,
		ReadTimeout:     cfg.GetBackendTimeout(),
	}, cache.WithLogger(log.Component("cache")), cache.WithMetrics(metrics)), nil
}

// newPipeline returns nil when no calculations are configured.
func newPipeline(
	cfg *config.Config,
	c derived.Cache,
	writer derived.Writer,
	entities derived.EntityResolver,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	reg prometheus.Registerer,
	log *logging.Logger,
) (*derived.Pipeline, error) {
	specs, err := derived.SpecsFromConfig(cfg.Calculations, cfg.Overlay.Device)
	if err != nil {
		return nil, fmt.Errorf("loading calculations: %w", err)
	}
	if len(specs) == 0 {
		return nil, nil
	}

	metrics, err := derived.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering derived metrics: %w", err)
	}
	opts := []derived.Option{derived.WithLogger(log.Component("derived")), derived.WithMetrics(metrics)}
	if influxClient != nil {
		opts = append(opts, derived.WithRecorder(influxClient))
	}
	if mqttClient != nil {
		opts = append(opts, derived.WithPublisher(mqttClient, mqttClient.Topics().Derived, mqttClient.QoS()))
	}

	pipeline, err := derived.NewPipeline(specs, c, writer, entities, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating derived pipeline: %w", err)
	}
	log.Info("derived pipeline configured", "calculations", len(specs))
	return pipeline, nil
}

func newWidget(
	cfg *config.Config,
	c overlay.Cache,
	entities overlay.EntityResolver,
	view overlay.ViewBinding,
	pipeline *derived.Pipeline,
	mqttClient *mqtt.Client,
	log *logging.Logger,
) (*overlay.Widget, error) {
	opts, err := overlay.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading overlay items: %w", err)
	}

	deps := overlay.Deps{
		Cache:    c,
		Entities: entities,
		View:     view,
		Logger:   log.Component("overlay"),
	}
	if cfg.Overlay.SourceURL != "" {
		deps.Loader = overlay.NewSourceLoader(cfg.Overlay.SourceURL, cfg.GetBackendTimeout())
	}
	if mqttClient != nil {
		deps.Subscriber = invalidation.NewMQTTSubscriber(mqttClient, mqttClient.Topics(), mqttClient.QoS(), log)
	}
	if pipeline != nil {
		deps.Pipeline = pipeline
	}

	widget, err := overlay.New(opts, deps)
	if err != nil {
		return nil, fmt.Errorf("creating overlay: %w", err)
	}
	return widget, nil
}
