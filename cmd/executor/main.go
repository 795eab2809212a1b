package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradepipe/internal/executor"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/config"
	"tradepipe/pkg/kafka"
	"tradepipe/pkg/logger"
	"tradepipe/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	account := flag.String("account", "", "account id (overrides config and env)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *account != "" {
		cfg.Executor.AccountID = *account
	}

	appLog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	execLog := appLog.With("executor-" + cfg.Executor.AccountID)

	b, err := bus.New(cfg.Bus.Dir, bus.WithRetries(cfg.Bus.MaxRetries))
	if err != nil {
		log.Fatalf("bus init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sub executor.Submitter
	switch cfg.Executor.Submitter {
	case "kafka":
		producer, err := kafka.NewProducer(
			kafka.WithBrokers(cfg.Kafka.Brokers),
			kafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			kafka.WithCompression(cfg.Kafka.Compression),
			kafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
			kafka.WithHashByKey(true),
		)
		if err != nil {
			log.Fatalf("kafka init failed: %v", err)
		}
		ks := executor.NewKafkaSubmitter(producer, cfg.Kafka.OrdersTopic, cfg.Executor.AccountID)
		defer ks.Close()
		sub = ks
	default:
		sub = executor.NewLogSubmitter(execLog)
	}

	x := executor.New(executor.Config{
		AccountID:         cfg.Executor.AccountID,
		HeartbeatInterval: cfg.Executor.HeartbeatInterval,
		PollInterval:      cfg.Executor.PollInterval,
		RequiredFiles:     cfg.Executor.RequiredFiles,
		QuarantineAfter:   cfg.Executor.QuarantineAfter,
	}, b, execLog, metrics.New(), sub)

	if cfg.Executor.LogDir != "" {
		trail, err := executor.NewExecutionLog(cfg.Executor.LogDir, cfg.Executor.AccountID)
		if err != nil {
			log.Fatalf("execution log init failed: %v", err)
		}
		defer trail.Close()
		x.SetTrail(trail)
	}

	if err := x.Run(ctx); err != nil && ctx.Err() == nil {
		execLog.Error("executor stopped", logger.Error(err))
		os.Exit(1)
	}
	execLog.Info("executor stopped")
}
