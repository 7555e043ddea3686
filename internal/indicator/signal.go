package indicator

import (
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// AlertName is the name carried by every alert event.
const AlertName = "DemandIndexPlus"

// MinSignalBar is the first bar index signals are evaluated on.
const MinSignalBar = 3

// Alert messages per signal kind.
const (
	MsgCrossLong     = "DI Cross Long Signal"
	MsgCrossShort    = "DI Cross Short Signal"
	MsgReversalLong  = "DI Extreme Reversal Long (Oversold)"
	MsgReversalShort = "DI Extreme Reversal Short (Overbought)"
)

// Signal is the outcome of evaluating one bar.
type Signal struct {
	Kind    model.SignalKind
	Color   model.Color
	Message string
}

// Fired reports whether a signal won arbitration and passed its filters.
func (s Signal) Fired() bool { return s.Kind != model.SignalNone }

// DetectInput is everything the detector reads for bar b. DIPrev1 and DIPrev2
// are DI[b-1] and DI[b-2]: detection runs one bar behind the calculator.
type DetectInput struct {
	Candle  model.Candle
	DIPrev1 decimal.Decimal
	DIPrev2 decimal.Decimal
	Levels  model.Levels
}

// Detector arbitrates crossing and reversal signals for one configuration.
type Detector struct {
	level   int
	filters Filters

	crossLong  model.Color
	crossShort model.Color
	reversal   model.Color
}

// NewDetector creates a detector for cfg.
func NewDetector(cfg Config) Detector {
	return Detector{
		level:      cfg.ExtremeLevel,
		filters:    FiltersFrom(cfg),
		crossLong:  cfg.CrossLongColor,
		crossShort: cfg.CrossShortColor,
		reversal:   cfg.ExtremeReversalColor,
	}
}

// Detect evaluates bar in.Candle against zone state z and returns the signal
// together with the zone state to use for the next bar.
//
// Priority is reversal long, reversal short, cross long, cross short. Only the
// winner is checked against the filters; if it is blocked nothing fires. Zone
// transitions are applied after evaluation using DIPrev1.
func (d Detector) Detect(in DetectInput, z ZoneState) (Signal, ZoneState) {
	if in.Candle.Index < MinSignalBar {
		return Signal{}, z
	}
	c := in.Candle

	crossLong := in.DIPrev1.IsPositive() && in.DIPrev2.IsNegative()
	crossShort := in.DIPrev1.IsNegative() && in.DIPrev2.IsPositive()
	bullish := c.Close.GreaterThan(c.Open)
	bearish := c.Close.LessThan(c.Open)
	reversalLong := z.WasInOversold && bullish && !z.ReversalLatchedOversold
	reversalShort := z.WasInOverbought && bearish && !z.ReversalLatchedOverbought

	var sig Signal
	switch {
	case reversalLong:
		sig = Signal{Kind: model.SignalReversalLong, Color: d.reversal, Message: MsgReversalLong}
	case reversalShort:
		sig = Signal{Kind: model.SignalReversalShort, Color: d.reversal, Message: MsgReversalShort}
	case crossLong:
		sig = Signal{Kind: model.SignalCrossLong, Color: d.crossLong, Message: MsgCrossLong}
	case crossShort:
		sig = Signal{Kind: model.SignalCrossShort, Color: d.crossShort, Message: MsgCrossShort}
	}

	// A winning reversal consumes the excursion even when a filter blocks it,
	// so zone state never depends on which filters are enabled.
	switch sig.Kind {
	case model.SignalReversalLong:
		z.ReversalLatchedOversold = true
	case model.SignalReversalShort:
		z.ReversalLatchedOverbought = true
	}

	if sig.Fired() && !d.filters.Pass(sig.Kind.IsLong(), c.Close, in.Levels) {
		sig = Signal{}
	}

	z = z.Advance(in.DIPrev1, d.level)
	z.LastProcessedBar = c.Index
	return sig, z
}
