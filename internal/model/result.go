package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Color is a named paint color, e.g. "lime". Empty means no color.
type Color string

// SignalKind identifies which signal fired on a bar.
type SignalKind string

const (
	SignalNone          SignalKind = ""
	SignalCrossLong     SignalKind = "cross_long"
	SignalCrossShort    SignalKind = "cross_short"
	SignalReversalLong  SignalKind = "reversal_long"
	SignalReversalShort SignalKind = "reversal_short"
)

// IsLong reports whether the signal is a long-side signal.
func (k SignalKind) IsLong() bool {
	return k == SignalCrossLong || k == SignalReversalLong
}

// Levels are the reference prices the correlation filters compare against.
// A zero value means the level is not known yet.
type Levels struct {
	VWAP        decimal.Decimal `json:"vwap"`
	VAH         decimal.Decimal `json:"vah"`
	VAL         decimal.Decimal `json:"val"`
	PrevDayHigh decimal.Decimal `json:"pdh"`
	PrevDayLow  decimal.Decimal `json:"pdl"`
}

// AlertEvent is raised when a signal fires with alerts enabled.
type AlertEvent struct {
	Name    string     `json:"name"`
	Message string     `json:"message"`
	Signal  SignalKind `json:"signal"`
	Symbol  string     `json:"symbol"`
	Index   int        `json:"index"`
	TS      time.Time  `json:"ts"`
}

// DIResult is the indicator output for one bar of one symbol.
type DIResult struct {
	Symbol  string          `json:"symbol"`
	TF      int             `json:"tf"`
	Index   int             `json:"index"`
	TS      time.Time       `json:"ts"`
	DI      decimal.Decimal `json:"di"`
	SMA     decimal.Decimal `json:"sma"`
	DIColor Color           `json:"di_color,omitempty"`
	Paint   Color           `json:"paint,omitempty"`
	Signal  SignalKind      `json:"signal,omitempty"`
	Alert   *AlertEvent     `json:"alert,omitempty"`
	Live    bool            `json:"live"` // preview from a forming candle
}

// StreamKey returns the Redis stream key: "di:{TF}s:{symbol}".
func (r *DIResult) StreamKey() string {
	return ResultStreamKey(r.TF, r.Symbol)
}

// PubSubChannel returns the Redis Pub/Sub channel: "pub:di:{TF}s:{symbol}".
func (r *DIResult) PubSubChannel() string {
	return ResultChannel(r.TF, r.Symbol)
}

// JSON returns the JSON-encoded result.
func (r *DIResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
