package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/console"
	"matter-bridge/internal/integration"
	"matter-bridge/internal/link"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
	"matter-bridge/internal/store"
	"matter-bridge/internal/telemetry"
	"matter-bridge/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := loadConfig(cfgPath)
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("config", "path", cfgPath, "err", err)
		os.Exit(1)
	}

	// Log output moves to the console once it is attached.
	logOut := &switchWriter{w: os.Stdout}
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)

	if err := run(cfg, logger, logOut); err != nil {
		logger.Error("matter-bridge stopped", "err", err)
		os.Exit(1)
	}
}

// teardown collects stop functions and runs them newest first.
type teardown []func()

func (t *teardown) add(fn func()) { *t = append(*t, fn) }

func (t teardown) run() {
	for i := len(t) - 1; i >= 0; i-- {
		t[i]()
	}
}

func run(cfg *Config, logger *slog.Logger, logOut *switchWriter) error {
	logger.Info("matter-bridge starting", "version", version)
	var stops teardown
	defer stops.run()

	registry := matter.NewRegistry(logger)
	clusters.RegisterAll(registry)
	logger.Info("cluster registry initialized", "clusters", len(registry.All()))

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	stops.add(func() { db.Close() })

	state, err := store.LoadOrCreateBridgeState(db)
	if err != nil {
		return fmt.Errorf("load bridge identity: %w", err)
	}
	logger.Info("bridge identity", "instance_id", state.InstanceID, "created_at", state.CreatedAt)

	events := bridge.NewEventBus(logger)
	stack, stackLink := createStack(cfg, logger)
	br := bridge.New(stack, registry, events, logger)

	// Stack requests are answered with "not handled" until the registry is
	// populated and the handler is attached.
	var connects uint64
	if stackLink != nil {
		stackLink.Start()
		stops.add(func() { stackLink.Close() })
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Stack.ConnectTimeout)
		err := stackLink.WaitConnected(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to stack on %s: %w", cfg.Stack.Port, err)
		}
		connects = stackLink.Connects()
	}

	persister := bridge.NewPersister(br, db, logger)
	persister.Start()
	stops.add(persister.Stop)
	stops.add(br.Close)
	populate(br, db, cfg, logger)

	if stackLink != nil {
		// A restarted co-processor has lost its endpoint table.
		stackLink.Attach(br, func() {
			if err := br.Reannounce(); err != nil {
				logger.Warn("reannounce devices", "err", err)
			}
		}, connects)
	}

	stopAuto, autoOpts := startAutomation(br, cfg, logger)
	stops.add(stopAuto)

	webServer := web.NewServer(br, logger, append(webOptions(cfg), autoOpts...)...)
	stops.add(webServer.Stop)
	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()
	stops.add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
	})

	stops.add(startMQTT(br, cfg, logger))
	if stop := startTelemetry(events, cfg, logger); stop != nil {
		stops.add(stop)
	}
	if stop := startIntegration(br, cfg, logger); stop != nil {
		stops.add(stop)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Console.Enabled {
		con := console.New(br, console.WithPorts(link.Ports))
		if err := con.Attach(); err != nil {
			logger.Error("console disabled", "err", err)
		} else {
			logOut.Set(con.Stdout())
			go con.Run(ctx, stop)
		}
	}

	<-ctx.Done()
	logOut.Set(os.Stdout)
	logger.Info("shutting down")
	return nil
}

func webOptions(cfg *Config) []web.ServerOption {
	opts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		opts = append(opts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		opts = append(opts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	return opts
}

// createStack picks the stack transport. The link is also returned on its
// own so run can wire its handler and lifecycle.
func createStack(cfg *Config, logger *slog.Logger) (bridge.Stack, *link.Link) {
	if cfg.Stack.Transport != "serial" {
		logger.Info("using log-only stack")
		return bridge.NewLogStack(logger), nil
	}
	logger.Info("using serial stack link", "port", cfg.Stack.Port, "baud", cfg.Stack.Baud)
	l := link.New(link.SerialOpener(cfg.Stack.Port, cfg.Stack.Baud), link.Config{
		RequestTimeout: cfg.Stack.RequestTimeout,
	}, logger)
	return l, l
}

// populate restores stored devices, or seeds the registry on first start.
func populate(br *bridge.Bridge, db store.Store, cfg *Config, logger *slog.Logger) {
	records, err := db.ListDevices()
	if err != nil {
		logger.Error("list stored devices", "err", err)
	}
	if len(records) > 0 {
		br.Restore(records)
		return
	}
	entries, _ := bridge.SeedByName(cfg.Seed)
	if err := br.Seed(entries); err != nil {
		logger.Warn("seed devices", "err", err)
	}
}

// startTelemetry returns nil when telemetry is off or InfluxDB is unreachable.
func startTelemetry(events *bridge.EventBus, cfg *Config, logger *slog.Logger) func() {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recorder, err := telemetry.Connect(ctx, cfg.Telemetry.Config, logger)
	if err != nil {
		logger.Error("telemetry disabled", "err", err)
		return nil
	}
	recorder.Subscribe(events)
	return recorder.Close
}

// startIntegration returns nil when the integration is off or the broker
// cannot be reached.
func startIntegration(br *bridge.Bridge, cfg *Config, logger *slog.Logger) func() {
	if !cfg.Integration.Enabled {
		return nil
	}
	broker := integration.NewAMQP(cfg.Integration.URL, logger.With("component", "amqp"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := broker.Start(ctx); err != nil {
		logger.Error("integration disabled", "err", err)
		return nil
	}
	relay := integration.New(br, broker, cfg.Integration.Config, logger)
	relay.Start()
	return func() {
		relay.Stop()
		broker.Stop()
	}
}
