package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource/postgres" // registers the postgres adapter
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/crypto"
	"github.com/ekaya-inc/ekaya-bi/pkg/database"
	"github.com/ekaya-inc/ekaya-bi/pkg/dialect"
	"github.com/ekaya-inc/ekaya-bi/pkg/handlers"
	"github.com/ekaya-inc/ekaya-bi/pkg/llm"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/middleware"
	"github.com/ekaya-inc/ekaya-bi/pkg/repositories"
	"github.com/ekaya-inc/ekaya-bi/pkg/retry"
	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, os.Getenv("DEBUG") != "")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("database", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Database),
		zap.String("warehouse", cfg.Warehouse.User+"@"+cfg.Warehouse.Host+"/"+cfg.Warehouse.Database),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Int("external_databases", len(cfg.ExternalDatabases)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, database.ConfigFrom(cfg.Database))
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(cfg, logger); err != nil {
		return err
	}

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:             cfg.Datasource.ConnectionTTLMinutes,
		MaxConnectionsPerOwner: cfg.Datasource.MaxConnectionsPerOwner,
		PoolMaxConns:           cfg.Datasource.PoolMaxConns,
		PoolMinConns:           cfg.Datasource.PoolMinConns,
	}, logger)
	defer func() {
		if err := connMgr.Close(); err != nil {
			logger.Warn("Failed to close connection manager", zap.Error(err))
		}
	}()
	connector := datasource.NewConnector(connMgr, database.OwnerString, logger)

	llmClient, err := llm.NewFromConfig(cfg.LLM, logger)
	if err != nil {
		return err
	}

	var encryptor *crypto.CredentialEncryptor
	if cfg.CredentialsKey != "" {
		encryptor, err = crypto.NewCredentialEncryptor(cfg.CredentialsKey)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("CREDENTIALS_KEY is not set; external connection records are disabled")
	}

	var transpilerOpts []dialect.Option
	if !cfg.Import.UseParser {
		transpilerOpts = append(transpilerOpts, dialect.WithoutParser())
	}
	transpiler := dialect.New(logger, transpilerOpts...)

	dataSourceService := services.NewDataSourceService(
		repositories.NewDataSourceRepository(),
		repositories.NewExternalConnectionRepository(),
		encryptor, connector, cfg, logger)
	schemaService := services.NewSchemaService(dataSourceService, connector, logger)
	importService := services.NewImportService(connector, dataSourceService, transpiler, cfg.Import, logger)
	chatService := services.NewChatService(dataSourceService, connector, llmClient, cfg, logger)
	cleaningService := services.NewCleaningService(dataSourceService, connector, llmClient, cfg, logger)
	diagramService := services.NewDiagramService(repositories.NewDiagramRepository(), dataSourceService, connector, logger)

	api := http.NewServeMux()
	handlers.NewDatasourcesHandler(dataSourceService, schemaService, logger).RegisterRoutes(api)
	handlers.NewImportHandler(importService, cfg.Import.MaxUploadBytes, logger).RegisterRoutes(api)
	handlers.NewChatHandler(chatService, diagramService, logger).RegisterRoutes(api)
	handlers.NewCleaningHandler(cleaningService, logger).RegisterRoutes(api)
	handlers.NewDiagramsHandler(diagramService, logger).RegisterRoutes(api)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, connMgr, logger).RegisterRoutes(mux)
	mux.Handle("/api/", middleware.OwnerScope(db, logger)(api))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-bi", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := database.OpenSQL(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, logger.Named("migrations"))
}
