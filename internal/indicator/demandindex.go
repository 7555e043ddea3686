package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// Output is the per-bar result of DemandIndex.Process.
type Output struct {
	Index   int
	DI      decimal.Decimal
	SMA     decimal.Decimal
	DIColor model.Color
	Paint   model.Color // empty when no signal fired
	Signal  model.SignalKind
	Alert   *model.AlertEvent // nil when nothing fired or alerts are off
}

// Line is a horizontal reference line drawn with the DI plot.
type Line struct {
	Name  string
	Value int
	Color model.Color
}

// Option customizes a DemandIndex.
type Option func(*DemandIndex)

// WithHistory bounds the per-bar series to roughly the last n bars.
// Zero keeps every bar.
func WithHistory(n int) Option {
	return func(d *DemandIndex) { d.hist.limit = n }
}

// DemandIndex is one indicator instance over one bar series.
// Not safe for concurrent use.
type DemandIndex struct {
	cfg      Config
	calc     *Calculator
	sma      *SMA
	detector Detector
	window   TimeWindow

	zone    ZoneState
	diPrev1 decimal.Decimal // DI[b-1]
	diPrev2 decimal.Decimal // DI[b-2]
	hist    series
}

// New creates an instance for cfg. An invalid cfg is rejected.
func New(cfg Config, opts ...Option) (*DemandIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &DemandIndex{}
	for _, opt := range opts {
		opt(d)
	}
	d.apply(cfg)
	return d, nil
}

func (d *DemandIndex) apply(cfg Config) {
	d.cfg = cfg
	d.calc = NewCalculator(cfg.BuySellPowerPeriod, cfg.BuySellSmoothPeriod)
	d.sma = NewSMA(cfg.SMAPeriod)
	d.detector = NewDetector(cfg)
	d.window = WindowFrom(cfg)
	d.Reset()
}

// Config returns the active configuration.
func (d *DemandIndex) Config() Config { return d.cfg }

// Zone returns the current extreme-zone state.
func (d *DemandIndex) Zone() ZoneState { return d.zone }

// NextIndex returns the bar index Process expects next.
func (d *DemandIndex) NextIndex() int { return d.calc.NextIndex() }

// Process consumes bar c with the filter levels computed for it. c.Index must
// be NextIndex(); an out-of-order bar returns ErrOutOfOrder and changes nothing.
func (d *DemandIndex) Process(c model.Candle, lv model.Levels) (Output, error) {
	di, err := d.calc.Next(c)
	if err != nil {
		return Output{}, err
	}
	sma := d.sma.Update(di)

	var out Output
	out, d.zone = d.evaluate(c, lv, di, sma, d.zone)

	d.diPrev2, d.diPrev1 = d.diPrev1, di
	d.hist.append(out)
	return out, nil
}

// Peek previews the output for a forming bar that would be next, WITHOUT
// mutating state. The preview never carries an alert.
func (d *DemandIndex) Peek(c model.Candle, lv model.Levels) Output {
	c.Index = d.calc.NextIndex()
	di := d.calc.Peek(c)
	out, _ := d.evaluate(c, lv, di, d.sma.Peek(di), d.zone)
	out.Alert = nil
	return out
}

func (d *DemandIndex) evaluate(c model.Candle, lv model.Levels, di, sma decimal.Decimal, z ZoneState) (Output, ZoneState) {
	out := Output{
		Index:   c.Index,
		DI:      di,
		SMA:     sma,
		DIColor: d.lineColor(di),
	}
	if c.Index < MinSignalBar || !d.window.Contains(c.TS) {
		return out, z
	}

	sig, z := d.detector.Detect(DetectInput{
		Candle:  c,
		DIPrev1: d.diPrev1,
		DIPrev2: d.diPrev2,
		Levels:  lv,
	}, z)
	if !sig.Fired() {
		return out, z
	}
	out.Paint = sig.Color
	out.Signal = sig.Kind
	if d.cfg.EnableAlerts {
		out.Alert = &model.AlertEvent{
			Name:    AlertName,
			Message: sig.Message,
			Signal:  sig.Kind,
			Symbol:  c.Symbol,
			Index:   c.Index,
			TS:      c.TS,
		}
	}
	return out, z
}

func (d *DemandIndex) lineColor(di decimal.Decimal) model.Color {
	if !d.cfg.ColorDIExtreme {
		return ColorDodgerBlue
	}
	lv := decimal.NewFromInt(int64(d.cfg.ExtremeLevel))
	switch {
	case di.GreaterThan(lv):
		return ColorRed
	case di.LessThan(lv.Neg()):
		return ColorGreen
	}
	return ColorDodgerBlue
}

// Reset clears every accumulator, the zone state and the stored series.
// The next bar processed must be bar 0.
func (d *DemandIndex) Reset() {
	d.calc.Reset()
	d.sma.Reset()
	d.zone = NewZoneState()
	d.diPrev1 = decimal.Zero
	d.diPrev2 = decimal.Zero
	d.hist.reset()
}

// Reconfigure switches to cfg. When the change affects computed values the
// instance is reset and reset is true: the caller must replay from bar 0.
// Toggling alerts alone keeps all state.
func (d *DemandIndex) Reconfigure(cfg Config) (reset bool, err error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	if !d.cfg.RequiresReset(cfg) {
		d.cfg = cfg
		return false, nil
	}
	d.apply(cfg)
	return true, nil
}

// DI returns the Demand Index of bar b.
func (d *DemandIndex) DI(b int) (decimal.Decimal, bool) {
	i, ok := d.hist.pos(b)
	if !ok {
		return decimal.Zero, false
	}
	return d.hist.di[i], true
}

// SMA returns the smoothed Demand Index of bar b.
func (d *DemandIndex) SMA(b int) (decimal.Decimal, bool) {
	i, ok := d.hist.pos(b)
	if !ok {
		return decimal.Zero, false
	}
	return d.hist.sma[i], true
}

// PaintColor returns the candle color of bar b, if a signal painted it.
func (d *DemandIndex) PaintColor(b int) (model.Color, bool) {
	i, ok := d.hist.pos(b)
	if !ok || d.hist.paint[i] == "" {
		return "", false
	}
	return d.hist.paint[i], true
}

// DIColor returns the DI line color of bar b.
func (d *DemandIndex) DIColor(b int) model.Color {
	i, ok := d.hist.pos(b)
	if !ok {
		return ""
	}
	return d.hist.diColor[i]
}

// Lines returns the reference lines: zero always, ±level when enabled.
func (d *DemandIndex) Lines() []Line {
	lines := []Line{{Name: "Zero", Value: 0, Color: ColorGray}}
	if d.cfg.ShowExtremeLines {
		lv := d.cfg.ExtremeLevel
		lines = append(lines,
			Line{Name: fmt.Sprintf("+%d (Overbought)", lv), Value: lv, Color: ColorRed},
			Line{Name: fmt.Sprintf("-%d (Oversold)", lv), Value: -lv, Color: ColorGreen},
		)
	}
	return lines
}
