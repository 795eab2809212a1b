package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"tradepipe/internal/dashboard"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/config"
	apphttp "tradepipe/pkg/http"
	"tradepipe/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	appLog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	dashLog := appLog.With("dashboard")

	b, err := bus.New(cfg.Bus.Dir, bus.WithRetries(cfg.Bus.MaxRetries))
	if err != nil {
		log.Fatalf("bus init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := apphttp.NewServer(dashboard.NewHandler(b),
		apphttp.WithPort(cfg.Dashboard.Port),
		apphttp.WithTimeouts(cfg.Dashboard.ReadTimeout, cfg.Dashboard.WriteTimeout, cfg.Dashboard.ShutdownTimeout),
	)
	if err := srv.Start(); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
	dashLog.Info("dashboard listening", logger.Int("port", cfg.Dashboard.Port))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dashboard.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		dashLog.Error("shutdown error", logger.Error(err))
	}
	dashLog.Info("dashboard stopped")
}
