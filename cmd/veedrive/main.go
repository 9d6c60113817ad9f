// Command veedrive serves sandboxed media to display-wall clients:
// descriptors and search over the message protocol, thumbnails and scaled
// renditions over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BlueBrain/veeone-veedrive/internal/api"
	"github.com/BlueBrain/veeone-veedrive/internal/config"
	"github.com/BlueBrain/veeone-veedrive/internal/content"
	"github.com/BlueBrain/veeone-veedrive/internal/logging"
	"github.com/BlueBrain/veeone-veedrive/internal/media"
	"github.com/BlueBrain/veeone-veedrive/internal/metrics"
	"github.com/BlueBrain/veeone-veedrive/internal/rpc"
	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
	"github.com/BlueBrain/veeone-veedrive/internal/search"
	"github.com/BlueBrain/veeone-veedrive/internal/thumbcache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.InitDefault()
		logging.Fatal("invalid configuration", zap.Error(err))
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		logging.InitDefault()
	}
	defer logging.Sync()

	guard, err := sandbox.New(cfg.SandboxPath)
	if err != nil {
		logging.Fatal("invalid sandbox", zap.Error(err))
	}
	cache, err := thumbcache.New(cfg.ThumbnailCachePath)
	if err != nil {
		logging.Fatal("cannot open thumbnail cache", zap.Error(err))
	}
	if err := cache.EnsureShardDirs(); err != nil {
		logging.Fatal("cannot prepare thumbnail cache", zap.Error(err))
	}

	resolver := content.NewResolver(guard, cfg, media.NewRunner(cfg.ToolTimeout))
	crawler := search.New(guard, cfg.SearchKeepFinished, cfg.SearchWorkerTimeout)
	dispatcher := rpc.NewDispatcher(resolver, crawler)
	server := api.NewServer(cfg, resolver, cache, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go crawler.RunPurgeLoop(ctx, cfg.SearchPurgeInterval)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logging.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	go func() {
		logging.Info("veedrive listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("sandbox", cfg.SandboxPath),
			zap.String("cache", cfg.ThumbnailCachePath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
	metricsSrv.Shutdown(shutdownCtx)
}
