package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-objectives/internal/adapter/cache"
	"github.com/samijaber1/aegis-objectives/internal/adapter/prometheus"
	"github.com/samijaber1/aegis-objectives/internal/adapter/synthetic"
	"github.com/samijaber1/aegis-objectives/internal/api"
	"github.com/samijaber1/aegis-objectives/internal/config"
	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/registry"
	"github.com/samijaber1/aegis-objectives/internal/scheduler"
	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/status"
	"github.com/samijaber1/aegis-objectives/internal/storage/sqlite"
	"github.com/samijaber1/aegis-objectives/internal/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.DefaultConfig()
	var configFile string

	cmd := &cobra.Command{
		Use:           "aegis-server",
		Short:         "Serve error budgets and burn rate alerts for service level objectives",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				fileCfg, err := config.LoadFile(configFile)
				if err != nil {
					return err
				}
				// flags given on the command line win over the file
				changed := make(map[string]string)
				cmd.Flags().Visit(func(f *pflag.Flag) {
					changed[f.Name] = f.Value.String()
				})
				cfg = fileCfg
				for name, value := range changed {
					if err := cmd.Flags().Set(name, value); err != nil {
						return err
					}
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML configuration file")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.Host, "host", cfg.Host, "HTTP server host")
	flags.StringVar(&cfg.ObjectiveDirectory, "objective-dir", cfg.ObjectiveDirectory, "Directory containing objective YAML files")
	flags.DurationVar((*time.Duration)(&cfg.ReloadInterval), "reload-interval", cfg.ReloadInterval.Std(), "How often the objective directory is re-read")
	flags.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database persisting objectives (empty keeps them in memory)")
	flags.StringVar(&cfg.AdapterType, "adapter", cfg.AdapterType, "Metrics adapter type (prometheus|synthetic)")
	flags.StringVar(&cfg.PrometheusURL, "prometheus-url", cfg.PrometheusURL, "Prometheus server URL (required for prometheus adapter)")
	flags.StringVar(&cfg.SyntheticFixture, "synthetic-fixture", cfg.SyntheticFixture, "JSON fixture served by the synthetic adapter")
	flags.DurationVar((*time.Duration)(&cfg.QueryTimeout), "query-timeout", cfg.QueryTimeout.Std(), "Timeout of a single metrics query")
	flags.Int64Var(&cfg.MaxConcurrency, "max-concurrency", cfg.MaxConcurrency, "Maximum concurrent metrics queries")
	flags.DurationVar((*time.Duration)(&cfg.CacheTTL), "cache-ttl", cfg.CacheTTL.Std(), "How long query results are cached (0 disables the cache)")
	flags.DurationVar((*time.Duration)(&cfg.RequestTimeout), "request-timeout", cfg.RequestTimeout.Std(), "Timeout of all metrics queries of one request")
	flags.DurationVar((*time.Duration)(&cfg.Alignment), "alignment", cfg.Alignment.Std(), "Evaluation times are rounded up to this step")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json|console)")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP/HTTP endpoint for traces (empty disables tracing)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting aegis server",
		zap.String("version", version),
		zap.Int("port", cfg.Port),
		zap.String("objective_dir", cfg.ObjectiveDirectory),
		zap.String("adapter", cfg.AdapterType))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "aegis-server", version, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	source, closeSource, err := newSource(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	// Registry, optionally backed by sqlite
	var opts []registry.Option
	var store *sqlite.Store
	if cfg.DatabasePath != "" {
		store, err = sqlite.NewStore(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open objective store: %w", err)
		}
		defer store.Close()
		opts = append(opts, registry.WithStore(store))
	}
	reg := registry.New(logger, opts...)

	if store != nil {
		n, err := reg.Restore(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore objectives: %w", err)
		}
		logger.Info("restored objectives", zap.Int("count", n))
	}

	statusConfig := status.DefaultConfig()
	statusConfig.Timeout = cfg.RequestTimeout.Std()
	statusConfig.Alignment = cfg.Alignment.Std()
	statusConfig.Rungs = cfg.Alerting.Ladder()
	statusConfig.MinShortWindow = cfg.Alerting.MinShortWindow.Std()
	agg := status.NewAggregator(reg, source, statusConfig, logger)

	var serverOpts []api.Option
	if store != nil {
		serverOpts = append(serverOpts, api.WithEventStore(store))
	}

	// Objective directory reloads
	var sched *scheduler.Scheduler
	if cfg.ObjectiveDirectory != "" {
		validator, err := slo.NewValidator()
		if err != nil {
			return fmt.Errorf("failed to initialize validator: %w", err)
		}
		sched = scheduler.NewScheduler(validator, reg, cfg.ObjectiveDirectory, cfg.ReloadInterval.Std(), logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to load objectives: %w", err)
		}
		defer sched.Stop()
		serverOpts = append(serverOpts, api.WithScheduler(sched))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	apiServer := api.NewServer(reg, agg, addr, logger, serverOpts...)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout.Std())
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", zap.Error(err))
		}
		logger.Info("shutdown complete")
	}
	return nil
}

// newSource builds the metrics source named by the configuration, wrapped in
// the query cache unless it is disabled.
func newSource(cfg config.Config, logger *zap.Logger) (eval.Source, func(), error) {
	var source eval.Source

	switch cfg.AdapterType {
	case "prometheus":
		promConfig := prometheus.DefaultConfig(cfg.PrometheusURL)
		promConfig.Timeout = cfg.QueryTimeout.Std()
		promConfig.MaxConcurrency = cfg.MaxConcurrency
		adapter, err := prometheus.NewAdapter(promConfig, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Prometheus adapter: %w", err)
		}
		source = adapter
		logger.Info("using Prometheus adapter", zap.String("url", cfg.PrometheusURL))

	case "synthetic":
		adapter := synthetic.NewAdapter()
		if cfg.SyntheticFixture != "" {
			if err := adapter.LoadFixture(cfg.SyntheticFixture); err != nil {
				return nil, nil, err
			}
			logger.Info("using synthetic adapter", zap.String("fixture", cfg.SyntheticFixture))
		} else {
			logger.Info("using synthetic adapter without fixture")
		}
		source = adapter

	default:
		return nil, nil, fmt.Errorf("unknown adapter type: %s", cfg.AdapterType)
	}

	if cfg.CacheTTL <= 0 {
		return source, func() {}, nil
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.TTL = cfg.CacheTTL.Std()
	cached, err := cache.New(source, cacheConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	return cached, cached.Close, nil
}
