package indengine

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"demandindex-plus/config"
	"demandindex-plus/internal/indicator"
)

// Config holds everything the Demand Index service needs at startup.
type Config struct {
	App       *config.Config
	Indicator indicator.Config
	Symbols   []string

	PELInterval time.Duration
	PELMinIdle  time.Duration

	// Holidays are session dates ("2006-01-02") the market is closed.
	Holidays []string

	// ReplaySize is the per-channel websocket replay depth.
	ReplaySize int

	// HistoryBars bounds the per-series DI history kept in memory.
	HistoryBars int
}

// LoadConfig reads the environment and the optional indicator YAML file.
func LoadConfig() (Config, error) {
	app := config.Load()
	ind, err := config.LoadIndicator(app.IndicatorConfig)
	if err != nil {
		return Config{}, err
	}
	return NewConfig(app, ind)
}

// NewConfig combines application and indicator settings, filling service
// specific values from the environment. An indicator without a timezone
// takes the session's.
func NewConfig(app *config.Config, ind indicator.Config) (Config, error) {
	ind = app.SessionIndicator(ind)
	if err := ind.Validate(); err != nil {
		return Config{}, err
	}
	symbols := app.ParseSymbols()
	if len(symbols) == 0 {
		return Config{}, fmt.Errorf("indengine: no symbols configured")
	}
	return Config{
		App:         app,
		Indicator:   ind,
		Symbols:     symbols,
		PELInterval: time.Duration(envInt("PEL_RECLAIM_INTERVAL_SEC", 30)) * time.Second,
		PELMinIdle:  time.Duration(envInt("PEL_MIN_IDLE_MS", 60000)) * time.Millisecond,
		Holidays:    parseList(os.Getenv("MARKET_HOLIDAYS")),
		ReplaySize:  envInt("WS_REPLAY_SIZE", 512),
		HistoryBars: envInt("HISTORY_BARS", 5000),
	}, nil
}

// SnapshotInterval returns the checkpoint period.
func (c Config) SnapshotInterval() time.Duration {
	if c.App.SnapshotInterval <= 0 {
		return time.Minute
	}
	return c.App.SnapshotInterval
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[indengine] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
