// Package main provides the entry point for the coda HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"asisaid.cn/coda/internal/common/config"
	"asisaid.cn/coda/internal/common/logger"
	"asisaid.cn/coda/internal/service"
	"asisaid.cn/coda/internal/session"
	httpapi "asisaid.cn/coda/pkg/api/http"
)

var (
	configPath = flag.String("config", "", "path to config file")
	version    = "dev"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logCfg := logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		Output:      cfg.Logger.Output,
		Development: cfg.Logger.Development,
		MaxSizeMB:   cfg.Logger.MaxSizeMB,
		MaxBackups:  cfg.Logger.MaxBackups,
		MaxAgeDays:  cfg.Logger.MaxAgeDays,
		Compress:    cfg.Logger.Compress,
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.WithComponent("main")
	log.Info("starting coda service",
		zap.String("version", version),
		zap.String("backend", cfg.Store.Backend),
		zap.String("dbname", cfg.Store.DBName),
	)

	// Store session; the connection opens on first request
	sess := session.New(cfg.Store)
	defer sess.Close()

	tagService := service.NewTagService(sess)
	router := httpapi.NewRouter(tagService, cfg.Logger.Development)
	server := httpapi.NewServer(cfg.Server, router)

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := httpapi.Serve(ctx, server, cfg.Server.ShutdownTimeout); err != nil {
		log.Error("HTTP server failed", zap.Error(err))
		os.Exit(1)
	}
}
