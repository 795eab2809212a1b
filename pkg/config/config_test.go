package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
environment: test
bus:
  dir: /tmp/test-bus
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.Dir != "/tmp/test-bus" {
		t.Fatalf("unexpected bus dir %s", cfg.Bus.Dir)
	}
	if cfg.Scanner.TargetInterval != 8500*time.Millisecond {
		t.Fatalf("unexpected target interval %v", cfg.Scanner.TargetInterval)
	}
	if cfg.Scanner.SettleDelay != 1200*time.Millisecond {
		t.Fatalf("unexpected settle delay %v", cfg.Scanner.SettleDelay)
	}
	if cfg.Engine.EvalInterval != 700*time.Millisecond {
		t.Fatalf("unexpected eval interval %v", cfg.Engine.EvalInterval)
	}
	if cfg.Engine.ReloadInterval != 5*time.Second {
		t.Fatalf("unexpected reload interval %v", cfg.Engine.ReloadInterval)
	}
	if cfg.Executor.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected heartbeat interval %v", cfg.Executor.HeartbeatInterval)
	}
	if cfg.Executor.QuarantineAfter != 3 {
		t.Fatalf("unexpected quarantine threshold %d", cfg.Executor.QuarantineAfter)
	}
	if cfg.Scanner.RetentionDays != 7 {
		t.Fatalf("unexpected retention %d", cfg.Scanner.RetentionDays)
	}
	if cfg.Scanner.MovesCapacity != 100 {
		t.Fatalf("unexpected moves capacity %d", cfg.Scanner.MovesCapacity)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, `
log:
  level: loud
`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsBadSubmitter(t *testing.T) {
	_, err := Load(writeConfig(t, `
executor:
  submitter: carrier-pigeon
`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("BUS_DIR", "/tmp/env-bus")
	t.Setenv("CHROME_PORT", "9444")
	t.Setenv("ACCOUNT_ID", " B ")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.Dir != "/tmp/env-bus" {
		t.Fatalf("BUS_DIR not applied: %s", cfg.Bus.Dir)
	}
	if cfg.Scanner.DebuggerPort != 9444 {
		t.Fatalf("CHROME_PORT not applied: %d", cfg.Scanner.DebuggerPort)
	}
	if cfg.Executor.AccountID != "B" {
		t.Fatalf("ACCOUNT_ID not trimmed: %q", cfg.Executor.AccountID)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("KAFKA_BROKERS not applied: %v", cfg.Kafka.Brokers)
	}
	if cfg.Mirror.Addr != "redis:6379" {
		t.Fatalf("REDIS_ADDR not applied: %s", cfg.Mirror.Addr)
	}
}

func TestLoadWithEnvAccountFallback(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "")
	t.Setenv("ACCOUNT", "C")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Executor.AccountID != "C" {
		t.Fatalf("ACCOUNT fallback not applied: %q", cfg.Executor.AccountID)
	}
}
