package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config collects every configuration leaf for the pipeline binaries. One
// YAML file per deployment; each binary reads the sections it needs.
type Config struct {
	Environment string `yaml:"environment" default:"development"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Bus struct {
		Dir        string `yaml:"dir" default:"shared" validate:"required"`
		MaxRetries int    `yaml:"max_retries" default:"6" validate:"gte=1"`
	} `yaml:"bus"`

	Scanner struct {
		DebuggerHost   string        `yaml:"debugger_host" default:"127.0.0.1"`
		DebuggerPort   int           `yaml:"debugger_port" default:"9228" validate:"gt=0"`
		DashboardURL   string        `yaml:"dashboard_url" default:"https://tms66.nepsetms.com.np/tms/mwDashboard"`
		TargetInterval time.Duration `yaml:"target_interval" default:"8500ms"`
		SettleDelay    time.Duration `yaml:"settle_delay" default:"1200ms"`
		LoginWait      time.Duration `yaml:"login_wait" default:"30s"`
		StartupTimeout time.Duration `yaml:"startup_timeout" default:"5m"`
		LogDir         string        `yaml:"log_dir" default:"market_logs"`
		RetentionDays  int           `yaml:"retention_days" default:"7" validate:"gte=1"`
		FullLogEvery   time.Duration `yaml:"full_log_every" default:"58s"`
		MovesCapacity  int           `yaml:"moves_capacity" default:"100" validate:"gte=1"`
	} `yaml:"scanner"`

	Engine struct {
		EvalInterval   time.Duration `yaml:"eval_interval" default:"700ms"`
		ReloadInterval time.Duration `yaml:"reload_interval" default:"5s"`
		AuditCSV       string        `yaml:"audit_csv" default:"logs/SIGNALS_HISTORY.csv"`
	} `yaml:"engine"`

	Executor struct {
		AccountID         string        `yaml:"account_id" default:"A" validate:"required"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"5s"`
		PollInterval      time.Duration `yaml:"poll_interval" default:"600ms"`
		LogDir            string        `yaml:"log_dir" default:"Executor_Logs"`
		Submitter         string        `yaml:"submitter" default:"log" validate:"oneof=log kafka"`
		RequiredFiles     []string      `yaml:"required_files"`
		QuarantineAfter   int           `yaml:"quarantine_after" default:"3" validate:"gte=1"`
	} `yaml:"executor"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		MovesTopic   string   `yaml:"moves_topic" default:"market.moves"`
		OrdersTopic  string   `yaml:"orders_topic" default:"orders.outbound"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		MaxAttempts  int      `yaml:"max_attempts" default:"3"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"tradepipe"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`

	Mirror struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl" default:"30s"`
	} `yaml:"mirror"`

	Dashboard struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"dashboard"`
}

// Load reads and parses a YAML configuration file, hydrates defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables set by the launcher.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BUS_DIR"); v != "" {
		c.Bus.Dir = v
	}
	if v := os.Getenv("CHROME_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Scanner.DebuggerPort = port
		}
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		c.Executor.AccountID = strings.TrimSpace(v)
	} else if v := os.Getenv("ACCOUNT"); v != "" {
		c.Executor.AccountID = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Mirror.Addr = v
	}

	return c, nil
}
