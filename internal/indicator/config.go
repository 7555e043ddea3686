package indicator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"demandindex-plus/internal/model"
)

// Accepted parameter ranges.
const (
	MinExtremeLevel = 1
	MaxExtremeLevel = 200
	MinPeriod       = 1
	MaxPeriod       = 10000
)

// Default paint and line colors.
const (
	ColorLime       model.Color = "lime"
	ColorRed        model.Color = "red"
	ColorOrange     model.Color = "orange"
	ColorGreen      model.Color = "green"
	ColorGray       model.Color = "gray"
	ColorDodgerBlue model.Color = "dodgerblue"
)

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
// It marshals as "HH:MM" or "HH:MM:SS".
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: time of day %q: want HH:MM[:SS]", ErrInvalidParameter, s)
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: time of day %q", ErrInvalidParameter, s)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return TimeOfDay(total), nil
}

// Clock returns the time of day for h:m:s.
func Clock(h, m, s int) TimeOfDay {
	return TimeOfDay(h*3600 + m*60 + s)
}

// OfTime returns the wall-clock time of day of t in its own location.
func OfTime(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return Clock(h, m, s)
}

func (d TimeOfDay) String() string {
	h, m, s := int(d)/3600, int(d)%3600/60, int(d)%60
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (d TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Config holds every user-facing parameter of the Demand Index.
// It is an immutable value: changing it goes through DemandIndex.Reconfigure.
type Config struct {
	ExtremeLevel        int `yaml:"extreme_level" json:"extreme_level"`
	BuySellPowerPeriod  int `yaml:"buy_sell_power" json:"buy_sell_power"`   // EMA period for volume
	BuySellSmoothPeriod int `yaml:"buy_sell_smooth" json:"buy_sell_smooth"` // EMA period for buying/selling pressure
	SMAPeriod           int `yaml:"sma_period" json:"sma_period"`

	UseVAFilter      bool `yaml:"use_va_filter" json:"use_va_filter"`
	UseVWAPFilter    bool `yaml:"use_vwap_filter" json:"use_vwap_filter"`
	UsePrevDayFilter bool `yaml:"use_prev_day_filter" json:"use_prev_day_filter"`

	UseTimeFilter bool      `yaml:"use_time_filter" json:"use_time_filter"`
	TradingStart  TimeOfDay `yaml:"trading_start" json:"trading_start"`
	TradingEnd    TimeOfDay `yaml:"trading_end" json:"trading_end"`

	// Timezone the trading window is evaluated in. Empty uses the bar timestamp's location.
	Timezone string `yaml:"timezone" json:"timezone"`

	EnableAlerts     bool `yaml:"enable_alerts" json:"enable_alerts"`
	ShowExtremeLines bool `yaml:"show_extreme_lines" json:"show_extreme_lines"`
	ColorDIExtreme   bool `yaml:"color_di_extreme" json:"color_di_extreme"`

	CrossLongColor       model.Color `yaml:"cross_long_color" json:"cross_long_color"`
	CrossShortColor      model.Color `yaml:"cross_short_color" json:"cross_short_color"`
	ExtremeReversalColor model.Color `yaml:"extreme_reversal_color" json:"extreme_reversal_color"`
}

// DefaultConfig returns the stock parameter set.
func DefaultConfig() Config {
	return Config{
		ExtremeLevel:         60,
		BuySellPowerPeriod:   10,
		BuySellSmoothPeriod:  10,
		SMAPeriod:            10,
		TradingStart:         Clock(9, 30, 0),
		TradingEnd:           Clock(16, 0, 0),
		EnableAlerts:         true,
		ShowExtremeLines:     true,
		ColorDIExtreme:       true,
		CrossLongColor:       ColorLime,
		CrossShortColor:      ColorRed,
		ExtremeReversalColor: ColorOrange,
	}
}

// Validate rejects out-of-range parameters. Every error wraps ErrInvalidParameter.
func (c Config) Validate() error {
	if c.ExtremeLevel < MinExtremeLevel || c.ExtremeLevel > MaxExtremeLevel {
		return fmt.Errorf("%w: extreme level %d outside [%d, %d]",
			ErrInvalidParameter, c.ExtremeLevel, MinExtremeLevel, MaxExtremeLevel)
	}
	periods := []struct {
		name string
		v    int
	}{
		{"buy/sell power period", c.BuySellPowerPeriod},
		{"buy/sell smooth period", c.BuySellSmoothPeriod},
		{"sma period", c.SMAPeriod},
	}
	for _, p := range periods {
		if p.v < MinPeriod || p.v > MaxPeriod {
			return fmt.Errorf("%w: %s %d outside [%d, %d]",
				ErrInvalidParameter, p.name, p.v, MinPeriod, MaxPeriod)
		}
	}
	day := Clock(24, 0, 0)
	if c.TradingStart < 0 || c.TradingStart >= day || c.TradingEnd < 0 || c.TradingEnd >= day {
		return fmt.Errorf("%w: trading window %s-%s", ErrInvalidParameter, c.TradingStart, c.TradingEnd)
	}
	if c.TradingStart > c.TradingEnd {
		return fmt.Errorf("%w: trading start %s after end %s", ErrInvalidParameter, c.TradingStart, c.TradingEnd)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidParameter, c.Timezone, err)
		}
	}
	if c.CrossLongColor == "" || c.CrossShortColor == "" || c.ExtremeReversalColor == "" {
		return fmt.Errorf("%w: paint colors must be set", ErrInvalidParameter)
	}
	return nil
}

// RequiresReset reports whether switching from c to next changes any computed
// output. Only the alert toggle can change without a recalculation.
func (c Config) RequiresReset(next Config) bool {
	next.EnableAlerts = c.EnableAlerts
	return c != next
}
