package indicator

import "github.com/shopspring/decimal"

// Zone names the extreme region DI last visited.
type Zone int

const (
	ZoneNeutral Zone = iota
	ZoneOverbought
	ZoneOversold
)

func (z Zone) String() string {
	switch z {
	case ZoneOverbought:
		return "overbought"
	case ZoneOversold:
		return "oversold"
	}
	return "neutral"
}

// ZoneState is the extreme-zone state machine. It is a plain value: Advance
// returns the next state instead of mutating the receiver.
type ZoneState struct {
	WasInOverbought           bool `json:"was_in_overbought"`
	WasInOversold             bool `json:"was_in_oversold"`
	ReversalLatchedOverbought bool `json:"reversal_latched_overbought"`
	ReversalLatchedOversold   bool `json:"reversal_latched_oversold"`
	LastProcessedBar          int  `json:"last_processed_bar"`
}

// NewZoneState returns the neutral state with no bar processed.
func NewZoneState() ZoneState {
	return ZoneState{LastProcessedBar: -1}
}

// Zone reports the zone the state machine is in.
func (z ZoneState) Zone() Zone {
	switch {
	case z.WasInOverbought:
		return ZoneOverbought
	case z.WasInOversold:
		return ZoneOversold
	}
	return ZoneNeutral
}

// Advance applies one reading of the previous bar's DI.
//
// A reading beyond ±level puts the machine in that zone; the reversal latch is
// re-armed only when the zone is entered afresh, so a single excursion can
// fire at most one reversal. Leaving is hysteretic: the zone is only dropped
// once DI is back inside ±level/2.
func (z ZoneState) Advance(diPrev1 decimal.Decimal, level int) ZoneState {
	lv := decimal.NewFromInt(int64(level))
	half := lv.Div(decimal.NewFromInt(2))

	switch {
	case diPrev1.GreaterThan(lv):
		if !z.WasInOverbought {
			z.ReversalLatchedOverbought = false
		}
		z.WasInOverbought = true
	case diPrev1.LessThan(half):
		z.WasInOverbought = false
	}

	switch {
	case diPrev1.LessThan(lv.Neg()):
		if !z.WasInOversold {
			z.ReversalLatchedOversold = false
		}
		z.WasInOversold = true
	case diPrev1.GreaterThan(half.Neg()):
		z.WasInOversold = false
	}
	return z
}
