// Package levels maintains the per-symbol reference prices the Demand Index
// filters compare against: session VWAP, the developing value area and the
// previous session's high/low.
package levels

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/markethours"
	"demandindex-plus/internal/model"
)

// Tracker combines VWAP, value area and previous-day range for one symbol.
// Sessions roll when a candle's session date differs from the last one.
// Not safe for concurrent use.
type Tracker struct {
	session *markethours.Session
	state   trackerState
}

type trackerState struct {
	Date    string   `json:"date"`
	VWAP    VWAP     `json:"vwap"`
	Range   DayRange `json:"range"`
	Profile *Profile `json:"profile"`
}

// NewTracker creates a tracker bucketing the value area at tick.
func NewTracker(session *markethours.Session, tick decimal.Decimal) *Tracker {
	if !tick.IsPositive() {
		tick = decimal.NewFromFloat(0.01)
	}
	return &Tracker{
		session: session,
		state:   trackerState{Profile: NewProfile(tick)},
	}
}

func (t *Tracker) roll(c model.Candle) {
	d := t.session.Date(c.TS)
	if d == t.state.Date {
		return
	}
	if t.state.Date != "" {
		t.state.Range.Roll()
	}
	t.state.VWAP.Reset()
	t.state.Profile.Reset()
	t.state.Date = d
}

// Update folds c into the session and returns the levels at c.
func (t *Tracker) Update(c model.Candle) model.Levels {
	t.roll(c)
	t.state.VWAP.Add(c)
	t.state.Range.Add(c)
	t.state.Profile.Add(c)
	return t.levels(t.state.VWAP.Value())
}

// Peek returns the levels as if c were folded in. The value area and the
// previous-day range are those of the closed bars; VWAP includes c.
func (t *Tracker) Peek(c model.Candle) model.Levels {
	if t.session.Date(c.TS) != t.state.Date {
		var fresh VWAP
		lv := t.levels(fresh.Peek(c))
		lv.VAH, lv.VAL = decimal.Zero, decimal.Zero
		if t.state.Range.Seen {
			lv.PrevDayHigh, lv.PrevDayLow = t.state.Range.High, t.state.Range.Low
		}
		return lv
	}
	return t.levels(t.state.VWAP.Peek(c))
}

func (t *Tracker) levels(vwap decimal.Decimal) model.Levels {
	vah, val := t.state.Profile.ValueArea()
	lv := model.Levels{VWAP: vwap, VAH: vah, VAL: val}
	if t.state.Range.HasPrev {
		lv.PrevDayHigh = t.state.Range.PrevHigh
		lv.PrevDayLow = t.state.Range.PrevLow
	}
	return lv
}

// POC returns the current session's point of control.
func (t *Tracker) POC() decimal.Decimal { return t.state.Profile.POC() }

// Reset clears all session state.
func (t *Tracker) Reset() {
	tick := t.state.Profile.Tick
	t.state = trackerState{Profile: NewProfile(tick)}
}

// MarshalState encodes the tracker for engine snapshots.
func (t *Tracker) MarshalState() (json.RawMessage, error) {
	return json.Marshal(t.state)
}

// RestoreState loads state written by MarshalState.
func (t *Tracker) RestoreState(data json.RawMessage) error {
	var st trackerState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("levels: decode state: %w", err)
	}
	if st.Profile == nil || !st.Profile.Tick.IsPositive() {
		return fmt.Errorf("levels: state has no profile")
	}
	if st.Profile.Bins == nil {
		st.Profile.Bins = make(map[int64]decimal.Decimal)
	}
	t.state = st
	return nil
}
