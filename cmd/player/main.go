package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/birkenfeld/arexibo/internal/collect"
	"github.com/birkenfeld/arexibo/internal/config"
	httpapi "github.com/birkenfeld/arexibo/internal/http"
	"github.com/birkenfeld/arexibo/internal/logging"
	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/birkenfeld/arexibo/internal/storage"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := new(slog.LevelVar)
	logs := logging.NewBuffer(logging.DefaultCapacity)
	logger := logging.New(level, logs)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Level())

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logger.Error("failed to create work directory", "err", err)
		os.Exit(1)
	}

	repo, err := storage.New(ctx, cfg.IndexPath(), logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	updates := make(chan model.Update, 64)
	feedback := make(chan model.Feedback, 16)

	hub := httpapi.NewHub(logger.With("component", "bridge"))
	go hub.Run(ctx, updates)

	handler, err := collect.Open(ctx, collect.Options{
		Config:   cfg,
		Index:    repo,
		Logs:     logs,
		Level:    level,
		Updates:  updates,
		Feedback: feedback,
		Version:  version,
		Logger:   logger,
	})
	if errors.Is(err, collect.ErrNotAuthorized) {
		logger.Error("display is not authorized yet, authorize it in the CMS and restart", "hardware_key", cfg.CMS.HardwareKey)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("failed to start player", "err", err)
		os.Exit(1)
	}
	go handler.Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.BridgeAddr,
		Handler:           httpapi.NewRouter(httpapi.New(hub, handler, feedback, logger.With("component", "bridge"))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("player starting", "version", version, "cms", cfg.CMS.Address, "bridge", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bridge server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("player stopped")
}
