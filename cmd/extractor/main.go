// Command extractor runs the HTTP API server that drives the COBOL-to-graph
// extraction pipeline (§6). Startup follows cmd/tarsy/main.go's shape: load
// config from a directory, connect to Postgres, build the service's
// dependencies, register routes, serve, and shut down gracefully on signal.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cobolgraph/extractor/pkg/api"
	"github.com/cobolgraph/extractor/pkg/config"
	"github.com/cobolgraph/extractor/pkg/database"
	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/source"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting extractor", "project_id", cfg.ProjectID, "model", cfg.ModelName, "listen_addr", cfg.HTTP.ListenAddr)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database")

	llmAPIKey := os.Getenv("LLM_API_KEY")
	llmClient := llm.NewHTTPClient(getEnv("LLM_BASE_URL", ""), cfg.ModelName, llmAPIKey, cfg.Stages.CallTimeout)

	srv := api.NewServer(*cfg, dbClient, llmClient, source.NewLocalFetcher())

	go func() {
		if err := srv.Start(cfg.HTTP.ListenAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("listening", "addr", cfg.HTTP.ListenAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
	}
}
