package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one closed (or forming) OHLCV bar for a symbol on a timeframe.
// Prices and volume are fixed-point decimals to avoid floating-point drift.
type Candle struct {
	Symbol  string          `json:"symbol"`
	TF      int             `json:"tf"`    // timeframe in seconds
	Index   int             `json:"index"` // position in the symbol's bar series, 0-based
	TS      time.Time       `json:"ts"`    // bucket start time
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Volume  decimal.Decimal `json:"volume"`
	Forming bool            `json:"forming"` // true while the bucket is still open
}

// Key returns "symbol:TFs".
func (c *Candle) Key() string {
	return SeriesKey(c.Symbol, c.TF)
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{symbol}".
func (c *Candle) StreamKey() string {
	return CandleStreamKey(c.TF, c.Symbol)
}

// PriceSum returns high + low + 2*close.
func (c *Candle) PriceSum() decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close.Add(c.Close))
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
