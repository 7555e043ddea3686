package indicator

import (
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// Filters are the correlation gates a signal must pass. Each is independent;
// a disabled filter never blocks and enabled filters are ANDed.
type Filters struct {
	ValueArea bool
	VWAP      bool
	PrevDay   bool
}

// FiltersFrom extracts the filter toggles from cfg.
func FiltersFrom(cfg Config) Filters {
	return Filters{
		ValueArea: cfg.UseVAFilter,
		VWAP:      cfg.UseVWAPFilter,
		PrevDay:   cfg.UsePrevDayFilter,
	}
}

// PassLong reports whether a long signal at price close is allowed.
func (f Filters) PassLong(close decimal.Decimal, lv model.Levels) bool {
	if f.ValueArea && !close.GreaterThan(lv.VAH) {
		return false
	}
	if f.VWAP && !close.GreaterThan(lv.VWAP) {
		return false
	}
	if f.PrevDay && !close.GreaterThan(lv.PrevDayHigh) {
		return false
	}
	return true
}

// PassShort reports whether a short signal at price close is allowed.
func (f Filters) PassShort(close decimal.Decimal, lv model.Levels) bool {
	if f.ValueArea && !close.LessThan(lv.VAL) {
		return false
	}
	if f.VWAP && !close.LessThan(lv.VWAP) {
		return false
	}
	if f.PrevDay && !close.LessThan(lv.PrevDayLow) {
		return false
	}
	return true
}

// Pass dispatches to PassLong or PassShort.
func (f Filters) Pass(long bool, close decimal.Decimal, lv model.Levels) bool {
	if long {
		return f.PassLong(close, lv)
	}
	return f.PassShort(close, lv)
}
