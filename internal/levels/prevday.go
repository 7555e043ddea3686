package levels

import (
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// DayRange tracks the running session high/low and the previous session's.
type DayRange struct {
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Seen     bool            `json:"seen"`
	PrevHigh decimal.Decimal `json:"prev_high"`
	PrevLow  decimal.Decimal `json:"prev_low"`
	HasPrev  bool            `json:"has_prev"`
}

// Add extends the current session range with c.
func (r *DayRange) Add(c model.Candle) {
	if !r.Seen {
		r.High, r.Low, r.Seen = c.High, c.Low, true
		return
	}
	r.High = decimal.Max(r.High, c.High)
	r.Low = decimal.Min(r.Low, c.Low)
}

// Roll closes the current session: its range becomes the previous one.
// A session without bars leaves the previous range untouched.
func (r *DayRange) Roll() {
	if r.Seen {
		r.PrevHigh, r.PrevLow, r.HasPrev = r.High, r.Low, true
	}
	r.High, r.Low, r.Seen = decimal.Zero, decimal.Zero, false
}

// Reset forgets both sessions.
func (r *DayRange) Reset() { *r = DayRange{} }
