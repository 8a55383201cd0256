package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iwvelando/margin-analysis/internal/config"
	"github.com/iwvelando/margin-analysis/internal/currency"
	"github.com/iwvelando/margin-analysis/internal/project"
	"github.com/iwvelando/margin-analysis/internal/server"
	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/internal/store/postgres"
	"github.com/iwvelando/margin-analysis/internal/store/sqlite"
	"github.com/iwvelando/margin-analysis/pkg/constants"
)

var version = "dev"

func openStore(ctx context.Context, db config.DatabaseConfig, logger *zap.Logger) (store.Store, error) {
	switch db.Driver {
	case constants.DriverPostgres:
		return postgres.Open(ctx, db.DSN, logger)
	case constants.DriverSQLite:
		return sqlite.Open(db.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func main() {
	configLocation := flag.String("config", constants.DefaultServerConfigFile, "path to configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	// A missing .env file is not an error.
	_ = godotenv.Load()

	path := *configLocation
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == constants.DefaultServerConfigFile {
		path = ""
	}

	conf, err := config.LoadConfiguration(path)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	serverConfig, err := server.NewConfig(conf.Server)
	if err != nil {
		logger.Fatal("invalid server configuration",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, conf.Database, logger)
	if err != nil {
		logger.Fatal("failed to open store",
			zap.String("op", "main"),
			zap.String("driver", conf.Database.Driver),
			zap.Error(err),
		)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Seed(ctx,
		store.DefaultCostRates(conf.Seed.CostRateMap()),
		store.DefaultExchangeRates(conf.Seed.ExchangeRateMap()),
	); err != nil {
		logger.Fatal("failed to seed store",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	var source currency.Source
	if !conf.Currency.Offline {
		source = currency.NewHTTPSource(conf.Currency.SourceURL, conf.Currency.Retries, logger)
	}
	fx := currency.NewNormalizer(st, source,
		currency.WithLogger(logger),
		currency.WithTTL(conf.Currency.TTL),
	)
	if err := fx.Prime(ctx); err != nil {
		logger.Fatal("failed to load exchange rates",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	deps := server.Dependencies{
		Store:    st,
		Projects: project.NewService(st, st, fx, logger),
		Rates:    fx,
	}
	httpServer := &http.Server{
		Addr:    serverConfig.Address,
		Handler: server.NewHandler(logger, deps, serverConfig.BodySizeBytes(), version),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("margin-analysis API listening",
			zap.String("op", "main"),
			zap.String("address", serverConfig.Address),
			zap.String("version", version),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return fx.RunRefresher(gctx, conf.Currency.RefreshInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down",
			zap.String("op", "main"),
		)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}
