// Bookmark Server
//
// Serves one bookmark hierarchy over HTTP:
// - hierarchy, file download and mutation endpoints
// - long-poll change notifications
// - JWT authentication for a single account
// - local filesystem or S3 storage
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgzargo/BookmarkStorage/internal/api"
	"github.com/dgzargo/BookmarkStorage/internal/auth"
	"github.com/dgzargo/BookmarkStorage/internal/backend"
	"github.com/dgzargo/BookmarkStorage/internal/config"
	"github.com/dgzargo/BookmarkStorage/internal/logging"
	"github.com/dgzargo/BookmarkStorage/internal/metrics"
	"github.com/dgzargo/BookmarkStorage/internal/storage/local"
	s3storage "github.com/dgzargo/BookmarkStorage/internal/storage/s3"
	"github.com/dgzargo/BookmarkStorage/internal/watcher"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Bookmark Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage and its watcher
	backendConfig, err := storageConfig(cfg)
	if err != nil {
		logging.Fatal("invalid storage config", zap.Error(err))
	}
	store, err := backend.New(ctx, cfg.StorageBackend, backendConfig, backend.Options{
		Watch: watcher.LocalOptions{
			Debounce:     cfg.WatchDebounce,
			PollInterval: cfg.WatchPollInterval,
		},
		PollInterval: cfg.WatchPollInterval,
		Logger:       logging.L(),
	})
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.Watcher.Start(ctx); err != nil {
		logging.Fatal("watcher start failed", zap.Error(err))
	}

	// Auth
	hash := cfg.AccountPasswordHash
	if hash == "" {
		hash, err = auth.HashPassword(cfg.AccountPassword)
		if err != nil {
			logging.Fatal("hash account password", zap.Error(err))
		}
	}
	authHandler, err := auth.New(auth.Config{
		Secret:       cfg.JWTSecret,
		TTL:          cfg.TokenTTL,
		Username:     cfg.AccountUsername,
		PasswordHash: hash,
	})
	if err != nil {
		logging.Fatal("auth init failed", zap.Error(err))
	}

	srv := api.NewServer(store.Service, store.Watcher, authHandler, api.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		WatchMaxWait:  cfg.WatchMaxWait,
	})

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		// Pending watch requests are released by closing the watcher.
		store.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

func storageConfig(cfg *config.Server) (json.RawMessage, error) {
	if cfg.StorageBackend == "s3" {
		return json.Marshal(s3storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Region:       cfg.S3Region,
			CreateBucket: true,
		})
	}
	return json.Marshal(local.Config{
		RootPath:   cfg.LocalStoragePath,
		CreateDirs: true,
	})
}
