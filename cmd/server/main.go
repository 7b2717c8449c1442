package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/rpattn/dataflow/internal/api"
	"github.com/rpattn/dataflow/internal/config"
	"github.com/rpattn/dataflow/internal/db"
	"github.com/rpattn/dataflow/internal/engine"
	"github.com/rpattn/dataflow/internal/execution"
	"github.com/rpattn/dataflow/internal/logging"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/middleware"
	"github.com/rpattn/dataflow/internal/policy"
	"github.com/rpattn/dataflow/internal/registry"
	"github.com/rpattn/dataflow/internal/repository"
	"github.com/rpattn/dataflow/internal/validators"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "Pipeline validation and lineage HTTP server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
			if cfg.File != "" {
				logger.Info("config loaded", "file", cfg.File)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("server stopped", "error", err)
				return err
			}
			logger.Info("server exited")
			return nil
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", envOr("DATAFLOW_CONFIG", "."), "config file or directory containing config.yaml")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger hclog.Logger) error {
	conn, err := db.NewConnection(ctx, cfg.Database.Config, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()

	if !cfg.Database.SkipMigrations {
		if err := db.RunMigrations(cfg.Database.Config, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	catalog, closeCatalog, err := openCatalog(ctx, cfg.Metadata, conn.Pool)
	if err != nil {
		return fmt.Errorf("open metadata catalog: %w", err)
	}
	defer closeCatalog()

	provider, err := policyProvider(cfg.Policy, catalog, conn.Pool)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.Registry.SampleCacheSize)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	var previewer engine.Previewer
	if cfg.Execution.BaseURL != "" {
		previewer = execution.NewClient(cfg.Execution.BaseURL, cfg.Execution.Timeout)
	}

	e := engine.New(engine.Options{
		Validators:  validators.NewSet(validators.Deps{Policy: policy.NewFilter(provider), Logger: logger}),
		Metadata:    catalog,
		Samples:     catalog,
		Registry:    reg,
		Previewer:   previewer,
		Logger:      logger,
		SampleLimit: cfg.Registry.SampleLimit,
		LoaderWait:  cfg.Metadata.LoaderWait,
	})
	repo := repository.NewPipelineRepository(db.New(conn.Pool), conn)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})
	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(logger)(
			middleware.RecoverMiddleware(logger)(api.NewHandler(e, repo, logger)),
		),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "metadata", cfg.Metadata.Driver, "policy", cfg.Policy.Provider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// openCatalog returns the metadata backend named by the config and a func
// releasing whatever it opened.
func openCatalog(ctx context.Context, cfg config.MetadataConfig, pool *pgxpool.Pool) (metadata.Catalog, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.DSN == "" {
			return metadata.NewPostgresCatalog(pool, cfg.Schema), func() {}, nil
		}
		own, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return metadata.NewPostgresCatalog(own, cfg.Schema), own.Close, nil
	case config.DriverMySQL:
		catalog, err := metadata.NewMySQLCatalog(cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, nil, err
		}
		return catalog, func() { _ = catalog.Close() }, nil
	case config.DriverStatic:
		catalog, err := metadata.LoadStaticCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, nil, err
		}
		return catalog, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata driver %q", cfg.Driver)
	}
}

func policyProvider(cfg config.PolicyConfig, catalog metadata.Catalog, pool *pgxpool.Pool) (policy.Provider, error) {
	switch cfg.Provider {
	case "", config.PolicyNone:
		return nil, nil
	case config.PolicyPostgres:
		return policy.NewPostgresProvider(pool), nil
	case config.PolicyCatalog:
		static, ok := catalog.(*metadata.StaticCatalog)
		if !ok {
			return nil, errors.New("policy provider catalog requires the static metadata driver")
		}
		return static, nil
	default:
		return nil, fmt.Errorf("unknown policy provider %q", cfg.Provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
