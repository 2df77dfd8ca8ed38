package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/askwise-inc/askwise-engine/pkg/config"
	"github.com/askwise-inc/askwise-engine/pkg/database"
	"github.com/askwise-inc/askwise-engine/pkg/embedding"
	"github.com/askwise-inc/askwise-engine/pkg/handlers"
	"github.com/askwise-inc/askwise-engine/pkg/llm"
	"github.com/askwise-inc/askwise-engine/pkg/logging"
	"github.com/askwise-inc/askwise-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting askwise-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	if err := db.Migrate(cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	orgs, err := config.LoadOrgConfig(cfg.OrgConfigPath)
	if err != nil {
		logger.Fatal("Failed to load org config", zap.Error(err))
	}

	chain, err := buildEmbeddingChain(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build embedding chain", zap.Error(err))
	}

	generator, err := buildGenerator(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build generator", zap.Error(err))
	}

	engine := services.NewEngine(services.EngineParams{
		DB:          db,
		Embedder:    chain,
		Generator:   generator,
		Orgs:        orgs,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	}, logger)

	go engine.Expiry.RunScheduler(ctx, cfg.Expiry.Interval())

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Forced shutdown", zap.Error(err))
	}
}

// buildEmbeddingChain assembles the backend fallback order: remote first when
// configured, then local, then the hashing backend which always succeeds.
func buildEmbeddingChain(cfg *config.Config, logger *zap.Logger) (*embedding.Chain, error) {
	var providers []embedding.Provider

	if cfg.Embedding.RemoteAvailable() {
		client, err := llm.NewClient(&llm.Config{
			Endpoint:       cfg.Embedding.RemoteBaseURL,
			EmbeddingModel: cfg.Embedding.RemoteModel,
			APIKey:         cfg.Embedding.RemoteAPIKey,
			Timeout:        cfg.Embedding.Timeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers,
			embedding.NewRemoteProvider(client, "remote", cfg.Embedding.Dimension, cfg.Embedding.RemoteRPS))
	}

	if cfg.Embedding.LocalAvailable() {
		providers = append(providers, embedding.NewLocalProvider(llm.Config{
			Endpoint:       cfg.Embedding.LocalBaseURL,
			EmbeddingModel: cfg.Embedding.LocalModel,
			Timeout:        cfg.Embedding.Timeout(),
		}, cfg.Embedding.Dimension, logger))
	}

	providers = append(providers, embedding.NewHashingProvider(cfg.Embedding.Dimension))
	return embedding.NewChain(logger, providers...)
}

// buildGenerator selects the text-generation collaborator.
func buildGenerator(cfg *config.Config, logger *zap.Logger) (llm.Generator, error) {
	if cfg.Generation.Provider == "anthropic" {
		return llm.NewAnthropicClient(&llm.AnthropicConfig{
			APIKey:  cfg.Generation.APIKey,
			Model:   cfg.Generation.Model,
			Timeout: cfg.Generation.Timeout(),
		}, logger)
	}
	return llm.NewClient(&llm.Config{
		Endpoint: cfg.Generation.BaseURL,
		Model:    cfg.Generation.Model,
		APIKey:   cfg.Generation.APIKey,
		Timeout:  cfg.Generation.Timeout(),
	}, logger)
}
