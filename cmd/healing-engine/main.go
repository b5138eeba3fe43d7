package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-healing/internal/alerting"
	"github.com/miradorstack/mirador-healing/internal/api"
	"github.com/miradorstack/mirador-healing/internal/cache"
	"github.com/miradorstack/mirador-healing/internal/collector"
	"github.com/miradorstack/mirador-healing/internal/config"
	"github.com/miradorstack/mirador-healing/internal/engine"
	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/repo"
	"github.com/miradorstack/mirador-healing/internal/rules"
	"github.com/miradorstack/mirador-healing/internal/scheduler"
	"github.com/miradorstack/mirador-healing/internal/services"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting mirador-healing",
		slog.String("address", cfg.Server.Address),
		slog.String("grpc_address", cfg.Server.GRPCAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var appCache cache.Provider = cache.NewMemoryProvider()
	var lease cache.Provider
	if cfg.Cache.Enabled {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			appCache = provider
			if cfg.Monitor.UseLease {
				lease = provider
			}
		}
	}
	defer appCache.Close()

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open record store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	prober, err := collector.NewProber(dependencyConfigs(cfg.Dependencies), cfg.Collector.Parallelism, logger)
	if err != nil {
		logger.Error("invalid dependency configuration", slog.Any("error", err))
		os.Exit(1)
	}
	defer prober.Close()

	endpoints := collector.NewEndpointMonitor(cfg.Endpoints.BaseURL, endpointConfigs(cfg.Endpoints.Checks), nil, logger)
	system := collector.NewSystemCollector(collector.SystemConfig{
		DiskPath:        cfg.Collector.DiskPath,
		CPUSampleWindow: cfg.Collector.CPUSampleWindow,
		LatencyTarget:   cfg.Collector.LatencyTarget,
		APIProbeURL:     cfg.Collector.APIProbeURL,
		Timeout:         cfg.Collector.Timeout,
	}, endpoints, logger)

	ruleEngine, err := rules.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	channels := alerting.NewChannels(alerting.ChannelSettings{
		WebhookURL:     cfg.Channels.WebhookURL,
		WebhookTimeout: cfg.Channels.WebhookTimeout,
		MailgunDomain:  cfg.Channels.MailgunDomain,
		MailgunAPIKey:  cfg.Channels.MailgunAPIKey,
		EmailFrom:      cfg.Channels.EmailFrom,
	}, logger)
	alertConfigs := cfg.Alerts
	if len(alertConfigs) == 0 {
		alertConfigs = alerting.DefaultConfigs()
	}
	dispatcher := alerting.NewDispatcher(alertConfigs, channels, logger)

	adminChannel, ok := channels[cfg.Actions.AdminChannel]
	if !ok {
		logger.Warn("unknown admin channel, using log", slog.String("channel", cfg.Actions.AdminChannel))
		adminChannel = channels[models.ChannelLog]
	}

	executor := engine.NewExecutor(engine.ExecutorConfig{
		RestartBackendCommand: cfg.Actions.RestartBackendCommand,
		RestartDBCommand:      cfg.Actions.RestartDBCommand,
		CacheFlushPrefix:      cfg.Actions.CacheFlushPrefix,
		NetworkTargets:        cfg.Actions.NetworkTargets,
		CommandTimeout:        cfg.Actions.CommandTimeout,
		DialTimeout:           cfg.Actions.DialTimeout,
	}, engine.ExecutorDeps{
		Cache:       appCache,
		Reconnector: prober,
		Notifier:    alerting.NewAdminNotifier(adminChannel, cfg.Actions.AdminRecipient),
	}, logger)

	deps := engine.Deps{
		Collector: system,
		Prober:    prober,
		Endpoints: endpoints,
		Rules:     ruleEngine,
		Executor:  executor,
		Alerts:    dispatcher,
		Store:     store,
		Lease:     lease,
	}
	eng, err := engine.New(engine.Config{
		HistorySize:      cfg.Monitor.HistorySize,
		AnomalyThreshold: cfg.Monitor.AnomalyThreshold,
		MinSamples:       cfg.Monitor.MinSamples,
		Rebaseline:       cfg.Monitor.Rebaseline,
		HealingEnabled:   cfg.Monitor.HealingEnabled,
		LeaseTTL:         cfg.Monitor.LeaseTTL,
	}, deps, logger)
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}

	healingService := services.NewHealingService(logger, eng)
	handlers := api.NewHandlers(healingService, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ManualRate:     cfg.Server.ManualRate,
		ManualBurst:    cfg.Server.ManualBurst,
	})

	server, err := api.NewServer(cfg.Server, router)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}
	eng.OnCycle(func(report models.CycleReport) {
		if report.Band != "" {
			server.SetBand(report.Band)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(cfg.Schedule.Spec, healingService, eng, logger)
		if err != nil {
			logger.Error("failed to create scheduler", slog.Any("error", err))
			os.Exit(1)
		}
		sched.Start(ctx, cfg.Schedule.RunOnStart)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-healing stopped")
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (repo.Store, error) {
	if cfg.Driver == "memory" {
		return repo.NewMemoryStore(cfg.Retention), nil
	}
	store, err := repo.NewGormStore(repo.GormConfig{
		Driver: cfg.Driver,
		DSN:    cfg.DSN,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("record store ready", slog.String("driver", cfg.Driver))
	return store, nil
}

func dependencyConfigs(in []config.DependencyConfig) []collector.DependencyConfig {
	out := make([]collector.DependencyConfig, 0, len(in))
	for _, d := range in {
		out = append(out, collector.DependencyConfig(d))
	}
	return out
}

func endpointConfigs(in []config.EndpointConfig) []collector.EndpointConfig {
	out := make([]collector.EndpointConfig, 0, len(in))
	for _, e := range in {
		out = append(out, collector.EndpointConfig(e))
	}
	return out
}
