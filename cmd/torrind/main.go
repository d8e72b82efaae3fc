// torrind is the Torrin upload server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torrin-io/torrin/internal/config"
	"github.com/torrin-io/torrin/internal/handlers"
	"github.com/torrin-io/torrin/internal/metrics"
	"github.com/torrin-io/torrin/internal/middleware"
	"github.com/torrin-io/torrin/internal/service"
	"github.com/torrin-io/torrin/internal/storage"
	"github.com/torrin-io/torrin/internal/storage/filesystem"
	s3driver "github.com/torrin-io/torrin/internal/storage/s3"
	"github.com/torrin-io/torrin/internal/store"
	"github.com/torrin-io/torrin/internal/store/memory"
	pgstore "github.com/torrin-io/torrin/internal/store/postgres"
	sqlitestore "github.com/torrin-io/torrin/internal/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting torrind",
		"port", cfg.Port,
		"base_path", cfg.BasePath,
		"store", cfg.StoreBackend,
		"storage", cfg.StorageBackend,
		"session_ttl", cfg.SessionTTL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	driver, err := buildDriver(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage driver", "error", err)
		os.Exit(1)
	}

	svc := service.New(st, driver, service.Options{
		DefaultChunkSize: cfg.DefaultChunkSize,
		SessionTTL:       cfg.SessionTTL,
	})

	go svc.StartCleanupWorker(ctx, cfg.CleanupInterval)

	startTime := time.Now()
	mux := http.NewServeMux()
	handlers.NewUpload(svc, strings.TrimRight(cfg.BasePath, "/")).Register(mux)
	mux.HandleFunc("GET /healthz", handlers.Health(startTime))
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.RequestID(
		middleware.Logging(
			middleware.Recovery(
				metrics.Middleware(cfg.BasePath, mux))))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (store.UploadStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case config.StorePostgres:
		st, err := pgstore.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func buildDriver(ctx context.Context, cfg *config.Config) (storage.Driver, error) {
	if cfg.StorageBackend == config.StorageS3 {
		return s3driver.New(ctx, s3driver.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
			KeyPrefix:       cfg.S3KeyPrefix,
		})
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, err
	}
	return filesystem.New(filesystem.Options{
		TempDir:          cfg.TempDir,
		BaseDir:          cfg.BaseDir,
		PreserveFileName: cfg.PreserveFileName,
	}), nil
}
