package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradepipe/internal/engine"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/clickhouse"
	"tradepipe/pkg/config"
	"tradepipe/pkg/logger"
	"tradepipe/pkg/metrics"
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
	engLog := appLog.With("engine")

	b, err := bus.New(cfg.Bus.Dir, bus.WithRetries(cfg.Bus.MaxRetries))
	if err != nil {
		log.Fatalf("bus init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var audit *engine.AuditLog
	if cfg.Engine.AuditCSV != "" {
		audit, err = engine.NewAuditLog(cfg.Engine.AuditCSV)
		if err != nil {
			log.Fatalf("audit log init failed: %v", err)
		}
		defer audit.Close()
	}

	var history engine.HistoryStore
	if cfg.ClickHouse.Enabled {
		client, err := clickhouse.NewClient(
			clickhouse.WithHost(cfg.ClickHouse.Host),
			clickhouse.WithPort(cfg.ClickHouse.Port),
			clickhouse.WithDatabase(cfg.ClickHouse.Database),
			clickhouse.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			clickhouse.WithHTTP(cfg.ClickHouse.UseHTTP),
			clickhouse.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			clickhouse.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		)
		if err != nil {
			log.Fatalf("clickhouse init failed: %v", err)
		}
		history, err = engine.NewClickHouseHistory(ctx, client)
		if err != nil {
			log.Fatalf("signal history init failed: %v", err)
		}
		defer history.Close()
		engLog.Info("signal history enabled", logger.String("db", cfg.ClickHouse.Database))
	}

	eval := engine.NewEvaluator(engine.Config{
		EvalInterval:   cfg.Engine.EvalInterval,
		ReloadInterval: cfg.Engine.ReloadInterval,
	}, b, engLog, metrics.New(), audit, history)

	if err := eval.Run(ctx); err != nil && ctx.Err() == nil {
		engLog.Error("engine stopped", logger.Error(err))
		os.Exit(1)
	}
	engLog.Info("engine stopped")
}
