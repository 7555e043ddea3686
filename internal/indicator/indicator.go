// Package indicator computes the Demand Index (DI) oscillator over candle data.
//
// A DemandIndex instance consumes bars strictly in index order and produces,
// per bar, the raw DI value, its SMA, an optional paint color and at most one
// alert event. The instance owns all mutable state; callers drive it from a
// single goroutine and call Reset before replaying a series from bar 0.
package indicator

import (
	"encoding/json"

	"demandindex-plus/internal/model"
)

// LevelTracker supplies the filter reference levels (VWAP, value area,
// previous-day range) for each bar of one symbol.
type LevelTracker interface {
	// Update folds a closed candle into the tracker and returns the levels at that bar.
	Update(c model.Candle) model.Levels

	// Peek returns the levels as if c were folded in, WITHOUT mutating state.
	Peek(c model.Candle) model.Levels

	// Reset clears all accumulated session state.
	Reset()
}

// StatefulTracker is a LevelTracker whose state can be checkpointed.
type StatefulTracker interface {
	LevelTracker
	MarshalState() (json.RawMessage, error)
	RestoreState(data json.RawMessage) error
}
