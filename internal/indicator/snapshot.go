package indicator

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// SnapshotVersion is the schema version written into engine snapshots.
const SnapshotVersion = 1

// EMASnapshot holds the serialized state of an EMA.
type EMASnapshot struct {
	Period  int     `json:"period"`
	Current float64 `json:"current"`
	Seeded  bool    `json:"seeded"`
}

// SMASnapshot holds the serialized state of an SMA.
type SMASnapshot struct {
	Period int               `json:"period"`
	Buf    []decimal.Decimal `json:"buf"`
	Idx    int               `json:"idx"`
	Count  int               `json:"count"`
	Sum    decimal.Decimal   `json:"sum"`
}

// CalculatorSnapshot holds the serialized state of a Calculator.
type CalculatorSnapshot struct {
	Volume       EMASnapshot `json:"volume"`
	Buying       EMASnapshot `json:"buying"`
	Selling      EMASnapshot `json:"selling"`
	Last         int         `json:"last"`
	PrevPriceSum float64     `json:"prev_price_sum"`
	PrevVolEMA   float64     `json:"prev_vol_ema"`
	Range0       float64     `json:"range0"`
}

// InstanceSnapshot holds the full state of one DemandIndex.
type InstanceSnapshot struct {
	Config     Config             `json:"config"`
	Calculator CalculatorSnapshot `json:"calculator"`
	SMA        SMASnapshot        `json:"sma"`
	Zone       ZoneState          `json:"zone"`
	DIPrev1    decimal.Decimal    `json:"di_prev1"`
	DIPrev2    decimal.Decimal    `json:"di_prev2"`

	// Retained per-bar series, starting at bar Base.
	Base     int               `json:"base"`
	DI       []decimal.Decimal `json:"di"`
	SMAs     []decimal.Decimal `json:"smas"`
	DIColors []model.Color     `json:"di_colors"`
	Paint    []model.Color     `json:"paint"`
}

// SymbolSnapshot holds one engine instance.
type SymbolSnapshot struct {
	Symbol   string           `json:"symbol"`
	TF       int              `json:"tf"`
	LastTS   time.Time        `json:"last_ts"`
	Instance InstanceSnapshot `json:"instance"`
	Levels   json.RawMessage  `json:"levels,omitempty"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	StreamID string           `json:"stream_id"` // Redis Stream ID at checkpoint time
	Symbols  []SymbolSnapshot `json:"symbols"`
	Version  int              `json:"version"` // schema version for forward compat
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadSnapshot, fmt.Sprintf(format, args...))
}

// Snapshot serializes the calculator state.
func (c *Calculator) Snapshot() CalculatorSnapshot {
	return CalculatorSnapshot{
		Volume:       c.volEMA.Snapshot(),
		Buying:       c.bpEMA.Snapshot(),
		Selling:      c.spEMA.Snapshot(),
		Last:         c.last,
		PrevPriceSum: c.prevPriceSum,
		PrevVolEMA:   c.prevVolEMA,
		Range0:       c.range0,
	}
}

// RestoreFromSnapshot restores calculator state from a checkpoint.
func (c *Calculator) RestoreFromSnapshot(snap CalculatorSnapshot) error {
	for _, s := range []struct {
		dst *EMA
		src EMASnapshot
	}{{&c.volEMA, snap.Volume}, {&c.bpEMA, snap.Buying}, {&c.spEMA, snap.Selling}} {
		if err := s.dst.RestoreFromSnapshot(s.src); err != nil {
			return err
		}
	}
	c.last = snap.Last
	c.prevPriceSum = snap.PrevPriceSum
	c.prevVolEMA = snap.PrevVolEMA
	c.range0 = snap.Range0
	return nil
}

// Snapshot captures the instance state.
func (d *DemandIndex) Snapshot() InstanceSnapshot {
	return InstanceSnapshot{
		Config:     d.cfg,
		Calculator: d.calc.Snapshot(),
		SMA:        d.sma.Snapshot(),
		Zone:       d.zone,
		DIPrev1:    d.diPrev1,
		DIPrev2:    d.diPrev2,
		Base:       d.hist.base,
		DI:         append([]decimal.Decimal(nil), d.hist.di...),
		SMAs:       append([]decimal.Decimal(nil), d.hist.sma...),
		DIColors:   append([]model.Color(nil), d.hist.diColor...),
		Paint:      append([]model.Color(nil), d.hist.paint...),
	}
}

// Restore loads snap into the instance. A snapshot taken under a
// configuration that produces different values is rejected.
func (d *DemandIndex) Restore(snap InstanceSnapshot) error {
	if snap.Config.RequiresReset(d.cfg) {
		return errorf("snapshot taken with a different configuration")
	}
	n := len(snap.DI)
	if len(snap.SMAs) != n || len(snap.DIColors) != n || len(snap.Paint) != n {
		return errorf("series lengths differ")
	}
	if err := d.calc.RestoreFromSnapshot(snap.Calculator); err != nil {
		return err
	}
	if err := d.sma.RestoreFromSnapshot(snap.SMA); err != nil {
		d.Reset()
		return err
	}
	d.zone = snap.Zone
	d.diPrev1 = snap.DIPrev1
	d.diPrev2 = snap.DIPrev2
	d.hist.base = snap.Base
	d.hist.di = append([]decimal.Decimal(nil), snap.DI...)
	d.hist.sma = append([]decimal.Decimal(nil), snap.SMAs...)
	d.hist.diColor = append([]model.Color(nil), snap.DIColors...)
	d.hist.paint = append([]model.Color(nil), snap.Paint...)
	return nil
}

// SnapshotEngine captures the full state of an Engine.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  SnapshotVersion,
	}

	keys := make([]string, 0, len(e.instances))
	for k := range e.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		inst := e.instances[k]
		ss := SymbolSnapshot{
			Symbol:   inst.symbol,
			TF:       inst.tf,
			LastTS:   inst.lastTS,
			Instance: inst.di.Snapshot(),
		}
		if st, ok := inst.levels.(StatefulTracker); ok {
			raw, err := st.MarshalState()
			if err != nil {
				return nil, fmt.Errorf("levels %s: %w", k, err)
			}
			ss.Levels = raw
		}
		snap.Symbols = append(snap.Symbols, ss)
	}
	return snap, nil
}

// RestoreEngine rebuilds an Engine from a snapshot. Symbols whose state cannot
// be restored are left out and start cold on their next candle.
func RestoreEngine(cfg Config, newTracker func() LevelTracker, snap *EngineSnapshot, opts ...Option) (*Engine, error) {
	e, err := NewEngine(cfg, newTracker, opts...)
	if err != nil {
		return nil, err
	}
	if snap.Version != SnapshotVersion {
		return nil, errorf("version %d, want %d", snap.Version, SnapshotVersion)
	}

	for _, ss := range snap.Symbols {
		inst, err := e.newInstance(ss.Symbol, ss.TF)
		if err != nil {
			return nil, err
		}
		if err := inst.di.Restore(ss.Instance); err != nil {
			log.Printf("[restorer] %s:%ds: %v; cold-starting", ss.Symbol, ss.TF, err)
			continue
		}
		if st, ok := inst.levels.(StatefulTracker); ok && len(ss.Levels) > 0 {
			if err := st.RestoreState(ss.Levels); err != nil {
				log.Printf("[restorer] %s:%ds: levels: %v; cold-starting", ss.Symbol, ss.TF, err)
				continue
			}
		}
		inst.lastTS = ss.LastTS
		e.instances[key(ss.Symbol, ss.TF)] = inst
	}
	return e, nil
}
