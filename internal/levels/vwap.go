package levels

import (
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

var three = decimal.NewFromInt(3)

// VWAP is a session-anchored volume weighted average of the typical price
// (high+low+close)/3. Accumulators are exact; the single division happens on read.
type VWAP struct {
	CumHLCV decimal.Decimal `json:"cum_hlcv"` // Σ (high+low+close) * volume
	CumVol  decimal.Decimal `json:"cum_vol"`
}

func typicalSum(c model.Candle) decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close)
}

// Add folds c into the average and returns the new value.
func (v *VWAP) Add(c model.Candle) decimal.Decimal {
	v.CumHLCV = v.CumHLCV.Add(typicalSum(c).Mul(c.Volume))
	v.CumVol = v.CumVol.Add(c.Volume)
	return v.Value()
}

// Peek returns the value as if c were added.
func (v VWAP) Peek(c model.Candle) decimal.Decimal {
	v.Add(c)
	return v.Value()
}

// Value returns the current VWAP, or zero before any volume traded.
func (v *VWAP) Value() decimal.Decimal {
	if !v.CumVol.IsPositive() {
		return decimal.Zero
	}
	return v.CumHLCV.Div(v.CumVol.Mul(three))
}

// Reset clears the session accumulators.
func (v *VWAP) Reset() {
	v.CumHLCV = decimal.Zero
	v.CumVol = decimal.Zero
}
