package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"demandindex-plus/internal/model"
)

// instance is the live state for one symbol + timeframe.
type instance struct {
	symbol string
	tf     int
	di     *DemandIndex
	levels LevelTracker
	lastTS time.Time
}

// Engine runs one DemandIndex per symbol + timeframe.
// Single-goroutine use only; there are no locks.
type Engine struct {
	cfg        Config
	opts       []Option
	newTracker func() LevelTracker

	// instances["symbol:TFs"] → *instance
	instances map[string]*instance
}

// NewEngine creates an engine. newTracker supplies a level tracker per
// symbol; nil runs without levels (every level reads as zero).
func NewEngine(cfg Config, newTracker func() LevelTracker, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		opts:       opts,
		newTracker: newTracker,
		instances:  make(map[string]*instance, 64),
	}, nil
}

func key(symbol string, tf int) string {
	return model.SeriesKey(symbol, tf)
}

func (e *Engine) newInstance(symbol string, tf int) (*instance, error) {
	di, err := New(e.cfg, e.opts...)
	if err != nil {
		return nil, err
	}
	inst := &instance{symbol: symbol, tf: tf, di: di}
	if e.newTracker != nil {
		inst.levels = e.newTracker()
	}
	return inst, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Keys returns the "symbol:TFs" keys of all instances, sorted.
func (e *Engine) Keys() []string {
	keys := make([]string, 0, len(e.instances))
	for k := range e.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Instance returns the indicator for symbol/tf.
func (e *Engine) Instance(symbol string, tf int) (*DemandIndex, bool) {
	inst, ok := e.instances[key(symbol, tf)]
	if !ok {
		return nil, false
	}
	return inst.di, true
}

// NextIndex returns the bar index the next closed candle for symbol/tf gets.
func (e *Engine) NextIndex(symbol string, tf int) int {
	if inst, ok := e.instances[key(symbol, tf)]; ok {
		return inst.di.NextIndex()
	}
	return 0
}

// Process takes a closed candle, assigns its bar index and computes the
// Demand Index for its symbol. A candle not strictly newer than the previous
// one for the same symbol returns ErrOutOfOrder.
func (e *Engine) Process(c model.Candle) (model.DIResult, error) {
	k := c.Key()
	inst, exists := e.instances[k]
	if !exists {
		// First candle for this symbol + TF: create the instance
		var err error
		if inst, err = e.newInstance(c.Symbol, c.TF); err != nil {
			return model.DIResult{}, err
		}
		e.instances[k] = inst
	}
	if !inst.lastTS.IsZero() && !c.TS.After(inst.lastTS) {
		return model.DIResult{}, fmt.Errorf("%w: %s candle at %s not after %s",
			ErrOutOfOrder, k, c.TS.Format(time.RFC3339), inst.lastTS.Format(time.RFC3339))
	}

	c.Index = inst.di.NextIndex()
	c.Forming = false
	var lv model.Levels
	if inst.levels != nil {
		lv = inst.levels.Update(c)
	}
	out, err := inst.di.Process(c, lv)
	if err != nil {
		return model.DIResult{}, err
	}
	inst.lastTS = c.TS
	return toResult(c, out, false), nil
}

// ProcessPeek previews the Demand Index for a forming candle using Peek().
// Does NOT mutate state, so it is safe for streaming updates every second.
// Returns false if the symbol hasn't been seeded by a closed candle yet.
func (e *Engine) ProcessPeek(c model.Candle) (model.DIResult, bool) {
	inst, exists := e.instances[c.Key()]
	if !exists {
		return model.DIResult{}, false
	}
	c.Index = inst.di.NextIndex()
	var lv model.Levels
	if inst.levels != nil {
		lv = inst.levels.Peek(c)
	}
	return toResult(c, inst.di.Peek(c, lv), true), true
}

// Run consumes candles and emits results. Forming candles are previewed.
// Blocks until ctx is done or candleCh is closed.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle, resultCh chan<- model.DIResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			var (
				r   model.DIResult
				err error
			)
			if c.Forming {
				var seeded bool
				if r, seeded = e.ProcessPeek(c); !seeded {
					continue
				}
			} else if r, err = e.Process(c); err != nil {
				slog.Warn("candle rejected", "component", "engine", "key", c.Key(), "error", err)
				continue
			}
			select {
			case resultCh <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Reconfigure applies cfg to every instance. It reports whether computed
// values changed; in that case every instance and level tracker has been
// reset and the caller must replay stored candles from bar 0.
func (e *Engine) Reconfigure(cfg Config) (replay bool, err error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	replay = e.cfg.RequiresReset(cfg)
	e.cfg = cfg
	for _, inst := range e.instances {
		if _, err := inst.di.Reconfigure(cfg); err != nil {
			return false, err
		}
		if replay {
			e.resetInstance(inst)
		}
	}
	return replay, nil
}

// Recalculate resets symbol/tf and replays candles through it from bar 0.
func (e *Engine) Recalculate(symbol string, tf int, candles []model.Candle) ([]model.DIResult, error) {
	k := key(symbol, tf)
	inst, ok := e.instances[k]
	if !ok {
		var err error
		if inst, err = e.newInstance(symbol, tf); err != nil {
			return nil, err
		}
		e.instances[k] = inst
	}
	e.resetInstance(inst)

	results := make([]model.DIResult, 0, len(candles))
	for _, c := range candles {
		c.Symbol, c.TF = symbol, tf
		r, err := e.Process(c)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Engine) resetInstance(inst *instance) {
	inst.di.Reset()
	if inst.levels != nil {
		inst.levels.Reset()
	}
	inst.lastTS = time.Time{}
}

func toResult(c model.Candle, out Output, live bool) model.DIResult {
	return model.DIResult{
		Symbol:  c.Symbol,
		TF:      c.TF,
		Index:   out.Index,
		TS:      c.TS,
		DI:      out.DI,
		SMA:     out.SMA,
		DIColor: out.DIColor,
		Paint:   out.Paint,
		Signal:  out.Signal,
		Alert:   out.Alert,
		Live:    live,
	}
}
