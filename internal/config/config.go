package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	HTTPServer  `yaml:"http_server"`
	Slack       Slack    `yaml:"slack"`
	Auth        Auth     `yaml:"auth"`
	Workflow    Workflow `yaml:"workflow"`
	Ledger      Ledger   `yaml:"ledger"`
	LLM         LLM      `yaml:"llm"`
	Queue       Queue    `yaml:"queue"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Slack struct {
	SigningSecret string `yaml:"signing_secret" env:"SLACK_SIGNING_SECRET"`
	BotToken      string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	DigestChannel string `yaml:"digest_channel" env:"SLACK_DIGEST_CHANNEL"`
}

type Auth struct {
	AllowedReporters []string `yaml:"allowed_reporters" env:"ALLOWED_REPORTERS" env-separator:","`
	RoleLookup       bool     `yaml:"role_lookup" env:"AUTH_ROLE_LOOKUP" env-default:"false"`
}

type Workflow struct {
	ExpiryWindow  time.Duration `yaml:"expiry_window" env:"EXPIRY_WINDOW" env-default:"30m"`
	UndoWindow    time.Duration `yaml:"undo_window" env:"UNDO_WINDOW" env-default:"30m"`
	Timezone      string        `yaml:"timezone" env:"REPORT_TIMEZONE" env-default:"America/New_York"`
	ParseTimeout  time.Duration `yaml:"parse_timeout" env-default:"20s"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env-default:"20s"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE" env-default:"@every 5m"`
}

type Ledger struct {
	DryRun          bool   `yaml:"dry_run" env:"LEDGER_DRY_RUN" env-default:"false"`
	SpreadsheetID   string `yaml:"spreadsheet_id" env:"LEDGER_SPREADSHEET_ID"`
	AbsenceSheet    string `yaml:"absence_sheet" env-default:"Absences"`
	EventsSheet     string `yaml:"events_sheet" env-default:"Attendance Events"`
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type LLM struct {
	APIKey    string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	Model     string `yaml:"model" env-default:"claude-3-5-haiku-latest"`
	MaxTokens int64  `yaml:"max_tokens" env-default:"1024"`
}

type Queue struct {
	Backend string `yaml:"backend" env:"QUEUE_BACKEND" env-default:"memory"`
	Key     string `yaml:"key" env-default:"attendance:reports"`
	Workers int    `yaml:"workers" env-default:"4"`
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	return cfg
}

// Load reads an optional .env, then the YAML file at CONFIG_PATH
// (default config/config.yaml) with environment overrides.
func Load() (*Config, error) {
	const op = "config.Load"

	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

// Validate rejects values that would make the workflow unsafe. Missing
// credentials are not errors: the dependent checks fail closed instead.
func (c *Config) Validate() error {
	if c.Workflow.ExpiryWindow <= 0 {
		return fmt.Errorf("workflow.expiry_window must be positive")
	}
	if c.Workflow.UndoWindow <= 0 {
		return fmt.Errorf("workflow.undo_window must be positive")
	}
	if _, err := time.LoadLocation(c.Workflow.Timezone); err != nil {
		return fmt.Errorf("workflow.timezone: %w", err)
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend)
	}
	if !c.Ledger.DryRun && c.Ledger.SpreadsheetID == "" {
		return fmt.Errorf("ledger.spreadsheet_id is required unless ledger.dry_run is set")
	}

	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Workflow.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
