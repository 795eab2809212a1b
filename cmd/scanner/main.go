package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradepipe/internal/mirror"
	"tradepipe/internal/scanner"
	"tradepipe/internal/session"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/config"
	"tradepipe/pkg/kafka"
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
	scanLog := appLog.With("scanner")

	b, err := bus.New(cfg.Bus.Dir, bus.WithRetries(cfg.Bus.MaxRetries))
	if err != nil {
		log.Fatalf("bus init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := session.NewSupervisor(session.Config{
		DebuggerHost:   cfg.Scanner.DebuggerHost,
		DebuggerPort:   cfg.Scanner.DebuggerPort,
		DashboardURL:   cfg.Scanner.DashboardURL,
		LoginWait:      cfg.Scanner.LoginWait,
		StartupTimeout: cfg.Scanner.StartupTimeout,
	}, b, appLog.With("session"))
	if err := sup.Acquire(ctx); err != nil {
		log.Fatalf("session acquire failed: %v", err)
	}
	defer sup.Close()

	logs, err := scanner.NewHourlyLogs(cfg.Scanner.LogDir, cfg.Scanner.RetentionDays)
	if err != nil {
		log.Fatalf("market logs init failed: %v", err)
	}
	defer logs.Close()

	pub := scanner.NewPublisher(scanner.Config{
		TargetInterval: cfg.Scanner.TargetInterval,
		SettleDelay:    cfg.Scanner.SettleDelay,
		FullLogEvery:   cfg.Scanner.FullLogEvery,
		MovesCapacity:  cfg.Scanner.MovesCapacity,
		MovesTopic:     cfg.Kafka.MovesTopic,
	}, b, sup, scanLog, metrics.New(), logs)

	if cfg.Kafka.Enabled {
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
		defer producer.Close()
		pub.SetFanout(producer)
		scanLog.Info("kafka fanout enabled", logger.Strings("brokers", cfg.Kafka.Brokers))
	}

	if cfg.Mirror.Enabled {
		m, err := mirror.New(mirror.Config{
			Addr:     cfg.Mirror.Addr,
			Password: cfg.Mirror.Password,
			DB:       cfg.Mirror.DB,
			TTL:      cfg.Mirror.TTL,
		})
		if err != nil {
			log.Fatalf("mirror init failed: %v", err)
		}
		defer m.Close()
		pub.SetMirror(m)
		scanLog.Info("redis mirror enabled", logger.String("addr", cfg.Mirror.Addr))
	}

	if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
		scanLog.Error("scanner stopped", logger.Error(err))
		os.Exit(1)
	}
	scanLog.Info("scanner stopped")
}
