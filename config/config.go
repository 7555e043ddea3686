package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"demandindex-plus/internal/indicator"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	PostgresDSN   string
	MetricsAddr   string
	HTTPAddr      string

	// Alert delivery
	NatsURL          string
	NatsSubject      string
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Symbols is a comma-separated list, e.g. "AAPL,MSFT"
	Symbols  string
	CandleTF int

	SnapshotInterval time.Duration
	SessionTZ        string
	ValueAreaTick    string

	// IndicatorConfig is an optional YAML file with indicator settings.
	IndicatorConfig string
	LogLevel        string

	ConsumerGroup string
	ConsumerName  string
}

// Load reads configuration from the environment with sensible defaults.
// A local .env file, when present, is loaded first.
func Load() *Config {
	_ = godotenv.Load()

	host, _ := os.Hostname()
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/demandindex.db"),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),

		NatsURL:          getEnv("NATS_URL", ""),
		NatsSubject:      getEnv("NATS_SUBJECT", "alerts.demandindex"),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		Symbols:  getEnv("SYMBOLS", "SPY"),
		CandleTF: getEnvInt("CANDLE_TF", 60),

		SnapshotInterval: time.Duration(getEnvInt("SNAPSHOT_INTERVAL_SEC", 60)) * time.Second,
		SessionTZ:        getEnv("SESSION_TZ", "America/New_York"),
		ValueAreaTick:    getEnv("VALUE_AREA_TICK", "0.01"),

		IndicatorConfig: getEnv("INDICATOR_CONFIG", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "demandindex"),
		ConsumerName:  getEnv("CONSUMER_NAME", "dindex-"+host),
	}
}

// ParseSymbols splits Symbols into a de-duplicated slice, preserving order.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// SessionIndicator returns ind with an unset trading window timezone bound
// to SessionTZ, so bars are gated on the session clock whatever offset
// their timestamps carry.
func (c *Config) SessionIndicator(ind indicator.Config) indicator.Config {
	if ind.Timezone == "" {
		ind.Timezone = c.SessionTZ
	}
	return ind
}

// Tick parses ValueAreaTick. Invalid or non-positive values fall back to 0.01.
func (c *Config) Tick() decimal.Decimal {
	fallback := decimal.New(1, -2)
	d, err := decimal.NewFromString(c.ValueAreaTick)
	if err != nil || !d.IsPositive() {
		log.Printf("[config] invalid VALUE_AREA_TICK %q, using %s", c.ValueAreaTick, fallback)
		return fallback
	}
	return d
}

// LoadIndicator reads indicator settings from a YAML file. Keys missing from
// the file keep their defaults. An empty path returns the defaults.
func LoadIndicator(path string) (indicator.Config, error) {
	cfg := indicator.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read indicator config: %w", err)
	}
	return ParseIndicator(data)
}

// ParseIndicator decodes YAML indicator settings over the defaults and validates them.
func ParseIndicator(data []byte) (indicator.Config, error) {
	return MergeIndicator(indicator.DefaultConfig(), data)
}

// MergeIndicator decodes YAML (or JSON) settings over base and validates the
// result. Keys absent from data keep their value in base.
func MergeIndicator(base indicator.Config, data []byte) (indicator.Config, error) {
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse indicator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MarshalIndicator renders cfg as YAML.
func MarshalIndicator(cfg indicator.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s value %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
