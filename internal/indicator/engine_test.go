package indicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// countingTracker reports a fixed VWAP and counts updates.
type countingTracker struct {
	updates, peeks, resets int
	vwap                   decimal.Decimal
}

func (c *countingTracker) Update(model.Candle) model.Levels {
	c.updates++
	return model.Levels{VWAP: c.vwap}
}

func (c *countingTracker) Peek(model.Candle) model.Levels {
	c.peeks++
	return model.Levels{VWAP: c.vwap}
}

func (c *countingTracker) Reset() { c.resets++ }

func withSymbol(bars []model.Candle, sym string) []model.Candle {
	out := make([]model.Candle, len(bars))
	for i, b := range bars {
		b.Symbol = sym
		b.Index = 0 // the engine assigns indexes
		out[i] = b
	}
	return out
}

func mustEngine(t *testing.T, cfg Config, newTracker func() LevelTracker, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, newTracker, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEngine_SymbolsAreIndependent(t *testing.T) {
	e := mustEngine(t, DefaultConfig(), nil)
	a := withSymbol(wave(50, 10, 2), "AAA")
	b := withSymbol(wave(50, 4, 1), "BBB")

	var ra, rb []model.DIResult
	for i := range a {
		r, err := e.Process(a[i])
		if err != nil {
			t.Fatal(err)
		}
		ra = append(ra, r)
		if r, err = e.Process(b[i]); err != nil {
			t.Fatal(err)
		}
		rb = append(rb, r)
	}

	solo := mustNew(t, DefaultConfig())
	for i, o := range runAll(t, solo, wave(50, 10, 2)) {
		if ra[i].Index != i || !ra[i].DI.Equal(o.DI) || ra[i].Signal != o.Signal {
			t.Fatalf("AAA bar %d: engine %+v, standalone %+v", i, ra[i], o)
		}
	}
	if keys := e.Keys(); len(keys) != 2 || keys[0] != "AAA:60s" || keys[1] != "BBB:60s" {
		t.Errorf("keys = %v", keys)
	}
	if e.NextIndex("BBB", 60) != 50 || e.NextIndex("CCC", 60) != 0 {
		t.Errorf("NextIndex BBB=%d CCC=%d", e.NextIndex("BBB", 60), e.NextIndex("CCC", 60))
	}
	if rb[49].Symbol != "BBB" || rb[49].Index != 49 {
		t.Errorf("BBB last result = %+v", rb[49])
	}
}

func TestEngine_RejectsStaleCandle(t *testing.T) {
	e := mustEngine(t, DefaultConfig(), nil)
	bars := withSymbol(wave(3, 2, 1), "AAA")
	for _, b := range bars {
		if _, err := e.Process(b); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Process(bars[1]); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	if e.NextIndex("AAA", 60) != 3 {
		t.Errorf("stale candle advanced the series")
	}
}

func TestEngine_PeekDoesNotMutate(t *testing.T) {
	tr := &countingTracker{}
	e := mustEngine(t, DefaultConfig(), func() LevelTracker { return tr })
	bars := withSymbol(wave(20, 5, 1), "AAA")

	if _, ok := e.ProcessPeek(bars[0]); ok {
		t.Fatal("peek before the first closed candle should be skipped")
	}
	for _, b := range bars[:19] {
		e.Process(b)
	}
	forming := bars[19]
	forming.Forming = true
	peek, ok := e.ProcessPeek(forming)
	if !ok || !peek.Live || peek.Index != 19 {
		t.Fatalf("peek = %+v, %v", peek, ok)
	}
	if e.NextIndex("AAA", 60) != 19 || tr.updates != 19 || tr.peeks != 1 {
		t.Errorf("peek mutated: next=%d updates=%d peeks=%d", e.NextIndex("AAA", 60), tr.updates, tr.peeks)
	}
	r, _ := e.Process(bars[19])
	if !r.DI.Equal(peek.DI) || r.Live {
		t.Errorf("closed %+v vs peek %+v", r, peek)
	}
}

func TestEngine_LevelsReachFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseVWAPFilter = true
	// VWAP far above every price: longs never pass, shorts always do.
	e := mustEngine(t, cfg, func() LevelTracker { return &countingTracker{vwap: dec(1000)} })
	for _, b := range withSymbol(wave(120, 10, 2), "AAA") {
		r, err := e.Process(b)
		if err != nil {
			t.Fatal(err)
		}
		if r.Signal.IsLong() {
			t.Fatalf("bar %d: long signal %q passed a VWAP of 1000", r.Index, r.Signal)
		}
	}
}

func TestEngine_ReconfigureAndRecalculate(t *testing.T) {
	tr := &countingTracker{}
	e := mustEngine(t, DefaultConfig(), func() LevelTracker { return tr })
	bars := withSymbol(wave(60, 10, 2), "AAA")
	for _, b := range bars {
		e.Process(b)
	}

	cfg := DefaultConfig()
	cfg.EnableAlerts = false
	if replay, err := e.Reconfigure(cfg); err != nil || replay {
		t.Fatalf("alert toggle: replay=%v err=%v", replay, err)
	}

	cfg.ExtremeLevel = 50
	replay, err := e.Reconfigure(cfg)
	if err != nil || !replay {
		t.Fatalf("level change: replay=%v err=%v", replay, err)
	}
	if e.NextIndex("AAA", 60) != 0 || tr.resets == 0 {
		t.Fatalf("instance not reset: next=%d resets=%d", e.NextIndex("AAA", 60), tr.resets)
	}

	results, err := e.Recalculate("AAA", 60, bars)
	if err != nil {
		t.Fatal(err)
	}
	want := runAll(t, mustNew(t, cfg), wave(60, 10, 2))
	for i, r := range results {
		if !r.DI.Equal(want[i].DI) || r.Paint != want[i].Paint || r.Alert != nil {
			t.Fatalf("bar %d: recalculated %+v, want %+v", i, r, want[i])
		}
	}
}

func TestEngine_Run(t *testing.T) {
	e := mustEngine(t, DefaultConfig(), nil)
	in := make(chan model.Candle, 8)
	out := make(chan model.DIResult, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bars := withSymbol(wave(4, 2, 1), "AAA")
	forming := bars[3]
	forming.Forming = true
	in <- forming // unseeded: skipped
	for _, b := range bars[:3] {
		in <- b
	}
	in <- forming
	in <- bars[0] // stale: skipped
	close(in)

	done := make(chan struct{})
	go func() {
		e.Run(ctx, in, out)
		close(done)
	}()
	<-done
	close(out)

	var got []model.DIResult
	for r := range out {
		got = append(got, r)
	}
	if len(got) != 4 {
		t.Fatalf("got %d results, want 4", len(got))
	}
	if !got[3].Live || got[3].Index != 3 {
		t.Errorf("last result = %+v, want live preview of bar 3", got[3])
	}
}
