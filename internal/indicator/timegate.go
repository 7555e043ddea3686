package indicator

import "time"

// TimeWindow gates signal evaluation to an inclusive time-of-day range.
type TimeWindow struct {
	Enabled bool
	Start   TimeOfDay
	End     TimeOfDay
	Loc     *time.Location // nil evaluates in the timestamp's own location
}

// WindowFrom builds the trading window for cfg. cfg must be valid.
func WindowFrom(cfg Config) TimeWindow {
	w := TimeWindow{
		Enabled: cfg.UseTimeFilter,
		Start:   cfg.TradingStart,
		End:     cfg.TradingEnd,
	}
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			w.Loc = loc
		}
	}
	return w
}

// Contains reports whether t falls in [Start, End]. A disabled window
// contains every instant.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	if w.Loc != nil {
		t = t.In(w.Loc)
	}
	tod := OfTime(t)
	return tod >= w.Start && tod <= w.End
}
