// Command gatecored is the entry point for the gatecore dispatch
// daemon: it wires the bus, router, gate config provider, gate
// pipeline, nociception aggregator, reflex controller, egress hub,
// memory hooks, metrics registry, admin HTTP surface and orchestrator
// together, then runs until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/gatecore/internal/adapters/forgesource"
	"github.com/nugget/gatecore/internal/adapters/mqttbridge"
	"github.com/nugget/gatecore/internal/adminhttp"
	"github.com/nugget/gatecore/internal/buildinfo"
	"github.com/nugget/gatecore/internal/bus"
	"github.com/nugget/gatecore/internal/config"
	"github.com/nugget/gatecore/internal/egress"
	"github.com/nugget/gatecore/internal/gate"
	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/memoryhooks"
	"github.com/nugget/gatecore/internal/memoryhooks/sqlitehooks"
	"github.com/nugget/gatecore/internal/metrics"
	"github.com/nugget/gatecore/internal/nociception"
	"github.com/nugget/gatecore/internal/observation"
	"github.com/nugget/gatecore/internal/orchestrator"
	"github.com/nugget/gatecore/internal/overridestore"
	"github.com/nugget/gatecore/internal/reflex"
	"github.com/nugget/gatecore/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	cfgPath, err := config.FindConfig(*configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using built-in defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting gatecored",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Gate config provider ---
	provider := gateconfig.NewProvider(cfg.GateConfig.Path, logger)
	if _, statErr := os.Stat(cfg.GateConfig.Path); statErr == nil {
		if err := provider.Load(); err != nil {
			logger.Error("failed to load gate.yaml, keeping built-in defaults", "error", err)
		}
	} else {
		logger.Warn("gate config file not found, using built-in defaults", "path", cfg.GateConfig.Path)
	}
	if cfg.GateConfig.WatchFSNotify {
		if err := provider.WatchFSNotify(); err != nil {
			logger.Warn("fsnotify watch failed, falling back to poll-only reload", "error", err)
		}
	}
	defer provider.Close()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)

	// --- Bus, router, gate ---
	b := bus.New(cfg.Bus.Capacity, logger)
	router := session.New(logger)
	g := gate.New()

	// --- Nociception + reflex ---
	aggregator := nociception.NewAggregator()
	aggregator.Metrics = metricsRegistry
	reflexController := reflex.New(provider)
	reflexController.Metrics = metricsRegistry
	ledgerPath := cfg.DataDir + "/overrides.db"
	if ledger, err := overridestore.Open(ledgerPath); err != nil {
		logger.Warn("failed to open override ledger, proceeding without audit trail", "path", ledgerPath, "error", err)
	} else {
		reflexController.Ledger = ledger
		defer ledger.Close()
	}

	// --- Memory hooks ---
	var memHooks memoryhooks.Hooks = memoryhooks.NoopHooks{}
	if cfg.Memory.Backend == "sqlite" {
		store, err := sqlitehooks.Open(cfg.Memory.Path)
		if err != nil {
			logger.Error("failed to open memory hooks database", "path", cfg.Memory.Path, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		memHooks = store
		logger.Info("memory hooks backend: sqlite", "path", cfg.Memory.Path)
	} else {
		logger.Info("memory hooks backend: noop")
	}

	// --- Egress hub + example adapters ---
	hub := egress.NewHub()
	pub := busPublisher{b}

	if cfg.Adapters.MQTT.Enabled {
		bridge := mqttbridge.New(mqttbridge.Config{
			BrokerURL:    cfg.Adapters.MQTT.BrokerURL,
			ClientID:     cfg.Adapters.MQTT.ClientID,
			Topic:        cfg.Adapters.MQTT.Topic,
			ControlTopic: cfg.Adapters.MQTT.ControlTopic,
		}, logger)
		hub.RegisterDefault(bridge)
		go func() {
			if err := bridge.Start(ctx, pub); err != nil && ctx.Err() == nil {
				logger.Error("mqtt bridge stopped", "error", err)
			}
		}()
		logger.Info("mqtt bridge adapter enabled", "broker", cfg.Adapters.MQTT.BrokerURL)
	}

	if cfg.Adapters.Forge.Enabled {
		source := forgesource.New(forgesource.Config{
			Owner:        cfg.Adapters.Forge.Owner,
			Repos:        cfg.Adapters.Forge.Repos,
			Token:        cfg.Adapters.Forge.Token,
			PollInterval: time.Duration(cfg.Adapters.Forge.PollSeconds) * time.Second,
		}, nil, logger)
		go source.Run(ctx, pub)
		logger.Info("forge source adapter enabled", "owner", cfg.Adapters.Forge.Owner, "repos", cfg.Adapters.Forge.Repos)
	}

	// --- Admin HTTP ---
	var adminSrv *adminhttp.Server
	if cfg.Admin.Enabled {
		adminSrv = adminhttp.New(cfg.Admin.Address, cfg.Admin.Port, g, router, reflexController,
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)
		go func() {
			if err := adminSrv.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("admin http server failed", "error", err)
			}
		}()
	}

	// --- Orchestrator ---
	orchCfg := orchestrator.Config{
		Logger:         logger,
		Bus:            b,
		Router:         router,
		ConfigProvider: provider,
		Gate:           g,
		Egress:         hub,
		Memory:         memHooks,
		Metrics:        metricsRegistry,
		Agent:          nil, // external collaborator; no concrete agent ships with the core
		System: orchestrator.SystemHandler{
			Nociception: aggregator,
			Reflex:      reflexController,
		},
		IdleTTL:         time.Duration(cfg.Orchestrator.IdleTTLSeconds) * time.Second,
		SweepInterval:   time.Duration(cfg.Orchestrator.SweepIntervalSeconds) * time.Second,
		WatcherInterval: time.Duration(cfg.Orchestrator.WatcherIntervalSeconds) * time.Second,
	}
	if adminSrv != nil {
		orchCfg.OnOutcome = adminSrv.Feed().Publish
	}
	orch := orchestrator.New(orchCfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	orch.Run(ctx)
	logger.Info("gatecored stopped")
}

// busPublisher adapts bus.Bus's two-return PublishNowait to the
// single-error Publisher interface the example adapters depend on, so
// they never need to import the bus package directly.
type busPublisher struct {
	b *bus.Bus
}

func (p busPublisher) PublishNowait(obs observation.Observation) error {
	_, err := p.b.PublishNowait(obs)
	return err
}
