package indicator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

func mustNew(t *testing.T, cfg Config, opts ...Option) *DemandIndex {
	t.Helper()
	d, err := New(cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func runAll(t *testing.T, d *DemandIndex, bars []model.Candle) []Output {
	t.Helper()
	outs := make([]Output, 0, len(bars))
	for _, b := range bars {
		out, err := d.Process(b, model.Levels{})
		if err != nil {
			t.Fatalf("bar %d: %v", b.Index, err)
		}
		outs = append(outs, out)
	}
	return outs
}

func countSignals(outs []Output) map[model.SignalKind]int {
	n := make(map[model.SignalKind]int)
	for _, o := range outs {
		if o.Signal != model.SignalNone {
			n[o.Signal]++
		}
	}
	return n
}

func TestDemandIndex_Bootstrap(t *testing.T) {
	d := mustNew(t, DefaultConfig())
	out, err := d.Process(bar(0, 100, 110, 90, 108, 5000), model.Levels{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.DI.IsZero() || !out.SMA.IsZero() {
		t.Errorf("bar 0: DI=%s SMA=%s, want 0", out.DI, out.SMA)
	}
	if di, ok := d.DI(0); !ok || !di.IsZero() {
		t.Errorf("DI(0) = %s, %v", di, ok)
	}
}

func TestDemandIndex_WaveProducesSignals(t *testing.T) {
	d := mustNew(t, DefaultConfig())
	outs := runAll(t, d, wave(200, 10, 2))
	n := countSignals(outs)
	if n[model.SignalReversalShort] == 0 || n[model.SignalReversalLong] == 0 {
		t.Errorf("expected reversals on a swinging series, got %v", n)
	}
	for _, o := range outs {
		if o.Signal == model.SignalNone {
			if o.Paint != "" || o.Alert != nil {
				t.Errorf("bar %d: paint/alert without a signal", o.Index)
			}
			continue
		}
		if o.Alert == nil || o.Alert.Name != AlertName {
			t.Errorf("bar %d: signal %q without alert", o.Index, o.Signal)
		}
		if o.Index < MinSignalBar {
			t.Errorf("bar %d: signal before minimum history", o.Index)
		}
		if c, ok := d.PaintColor(o.Index); !ok || c != o.Paint {
			t.Errorf("PaintColor(%d) = %q, %v; want %q", o.Index, c, ok, o.Paint)
		}
	}
}

func TestDemandIndex_CrossLongAlertAfterLag(t *testing.T) {
	d := mustNew(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		if _, err := d.Process(doji(i), model.Levels{}); err != nil {
			t.Fatal(err)
		}
	}
	// DI[1] = -10, DI[2] = 5: the cross shows up when bar 3 is processed.
	d.diPrev2, d.diPrev1 = dec(-10), dec(5)
	d.zone = NewZoneState()

	out, err := d.Process(doji(3), model.Levels{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Signal != model.SignalCrossLong || out.Paint != ColorLime {
		t.Fatalf("bar 3: signal=%q paint=%q", out.Signal, out.Paint)
	}
	if out.Alert == nil || out.Alert.Message != "DI Cross Long Signal" || out.Alert.Index != 3 {
		t.Fatalf("bar 3: alert = %+v", out.Alert)
	}
}

func TestDemandIndex_AlertsDisabledStillPaints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableAlerts = false
	outs := runAll(t, mustNew(t, cfg), wave(120, 10, 2))
	painted := 0
	for _, o := range outs {
		if o.Alert != nil {
			t.Fatalf("bar %d: alert with alerts disabled", o.Index)
		}
		if o.Paint != "" {
			painted++
		}
	}
	if painted == 0 {
		t.Error("expected painted bars")
	}
}

func TestDemandIndex_Idempotent(t *testing.T) {
	bars := wave(300, 7, 1.5)
	d := mustNew(t, DefaultConfig())
	first := runAll(t, d, bars)

	d.Reset()
	if d.NextIndex() != 0 {
		t.Fatalf("NextIndex after Reset = %d", d.NextIndex())
	}
	second := runAll(t, d, bars)

	for i := range first {
		a, b := first[i], second[i]
		if !a.DI.Equal(b.DI) || !a.SMA.Equal(b.SMA) || a.Paint != b.Paint || a.Signal != b.Signal {
			t.Fatalf("bar %d differs after reset: %+v vs %+v", i, a, b)
		}
	}
}

func TestDemandIndex_RangeAndSMA(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMAPeriod = 4
	d := mustNew(t, cfg)
	outs := runAll(t, d, wave(100, 5, 3))
	hundred := decimal.NewFromInt(100)
	for i, o := range outs {
		if o.DI.Abs().GreaterThan(hundred) {
			t.Fatalf("bar %d: DI %s out of range", i, o.DI)
		}
		// SMA over the last min(i+1, 4) DI values.
		from := i - 3
		if from < 0 {
			from = 0
		}
		sum := decimal.Zero
		for _, p := range outs[from : i+1] {
			sum = sum.Add(p.DI)
		}
		want := sum.Div(decimal.NewFromInt(int64(i + 1 - from)))
		if !o.SMA.Equal(want) {
			t.Fatalf("bar %d: SMA = %s, want %s", i, o.SMA, want)
		}
	}
}

func TestDemandIndex_TimeGateSuppressesSignals(t *testing.T) {
	bars := wave(200, 10, 2)
	open := runAll(t, mustNew(t, DefaultConfig()), bars)
	if len(countSignals(open)) == 0 {
		t.Fatal("ungated run produced no signals")
	}

	cfg := DefaultConfig()
	cfg.UseTimeFilter = true
	cfg.TradingStart, cfg.TradingEnd = Clock(20, 0, 0), Clock(21, 0, 0)
	d := mustNew(t, cfg)
	gated := runAll(t, d, bars)
	for i, o := range gated {
		if o.Paint != "" || o.Alert != nil {
			t.Fatalf("bar %d outside the window got paint=%q alert=%v", i, o.Paint, o.Alert)
		}
		if !o.DI.Equal(open[i].DI) || !o.SMA.Equal(open[i].SMA) {
			t.Fatalf("bar %d: DI/SMA must not depend on the time gate", i)
		}
	}
	if z := d.Zone(); z.LastProcessedBar != -1 {
		t.Errorf("zone evaluated outside the window: %+v", z)
	}
}

func TestDemandIndex_FilterMonotonicOverSeries(t *testing.T) {
	bars := wave(200, 10, 2)
	levels := model.Levels{VWAP: dec(104), VAH: dec(108), VAL: dec(96), PrevDayHigh: dec(112), PrevDayLow: dec(92)}

	run := func(cfg Config) []Output {
		d := mustNew(t, cfg)
		outs := make([]Output, 0, len(bars))
		for _, b := range bars {
			o, err := d.Process(b, levels)
			if err != nil {
				t.Fatal(err)
			}
			outs = append(outs, o)
		}
		return outs
	}
	all := DefaultConfig()
	all.UseVAFilter, all.UseVWAPFilter, all.UsePrevDayFilter = true, true, true
	narrow := run(all)

	some := all
	some.UsePrevDayFilter = false
	wide := run(some)

	for i := range narrow {
		if narrow[i].Signal != model.SignalNone && wide[i].Signal != narrow[i].Signal {
			t.Errorf("bar %d: %q with more filters but %q with fewer", i, narrow[i].Signal, wide[i].Signal)
		}
	}
	if n, w := len(countSignals(narrow)), len(countSignals(wide)); n > w {
		t.Errorf("narrow run has more signal kinds (%d) than the wide run (%d)", n, w)
	}
}

func TestDemandIndex_OutOfOrderLeavesState(t *testing.T) {
	d := mustNew(t, DefaultConfig())
	runAll(t, d, wave(5, 3, 1))
	before := d.Snapshot()
	if _, err := d.Process(bar(9, 100, 101, 99, 100, 10), model.Levels{}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	after := d.Snapshot()
	if before.Calculator != after.Calculator || before.Zone != after.Zone || len(after.DI) != 5 {
		t.Error("rejected bar mutated state")
	}
}

func TestDemandIndex_PeekMatchesProcess(t *testing.T) {
	bars := wave(40, 6, 2)
	d := mustNew(t, DefaultConfig())
	runAll(t, d, bars[:39])

	next := bars[39]
	peek := d.Peek(next, model.Levels{})
	if d.NextIndex() != 39 {
		t.Fatalf("Peek advanced the instance to %d", d.NextIndex())
	}
	out, err := d.Process(next, model.Levels{})
	if err != nil {
		t.Fatal(err)
	}
	if !peek.DI.Equal(out.DI) || !peek.SMA.Equal(out.SMA) || peek.Paint != out.Paint {
		t.Errorf("peek %+v != process %+v", peek, out)
	}
	if peek.Alert != nil {
		t.Error("peek must not carry an alert")
	}
}

func TestDemandIndex_Reconfigure(t *testing.T) {
	d := mustNew(t, DefaultConfig())
	runAll(t, d, wave(20, 5, 1))

	cfg := d.Config()
	cfg.EnableAlerts = false
	reset, err := d.Reconfigure(cfg)
	if err != nil || reset {
		t.Fatalf("alert toggle: reset=%v err=%v", reset, err)
	}
	if d.NextIndex() != 20 {
		t.Errorf("alert toggle lost state: NextIndex = %d", d.NextIndex())
	}

	cfg.SMAPeriod = 3
	if reset, err = d.Reconfigure(cfg); err != nil || !reset {
		t.Fatalf("sma change: reset=%v err=%v", reset, err)
	}
	if d.NextIndex() != 0 {
		t.Errorf("NextIndex after reset = %d, want 0", d.NextIndex())
	}

	bad := cfg
	bad.SMAPeriod = 0
	if _, err := d.Reconfigure(bad); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("err = %v, want ErrInvalidParameter", err)
	}
	if d.Config().SMAPeriod != 3 {
		t.Error("invalid config was applied")
	}
}

func TestDemandIndex_LineColorsAndLines(t *testing.T) {
	d := mustNew(t, DefaultConfig())
	outs := runAll(t, d, wave(60, 10, 2))
	sixty := decimal.NewFromInt(60)
	for _, o := range outs {
		want := ColorDodgerBlue
		switch {
		case o.DI.GreaterThan(sixty):
			want = ColorRed
		case o.DI.LessThan(sixty.Neg()):
			want = ColorGreen
		}
		if o.DIColor != want || d.DIColor(o.Index) != want {
			t.Errorf("bar %d DI=%s: color %q, want %q", o.Index, o.DI, o.DIColor, want)
		}
	}

	lines := d.Lines()
	if len(lines) != 3 || lines[1].Name != "+60 (Overbought)" || lines[2].Value != -60 {
		t.Errorf("lines = %+v", lines)
	}

	cfg := DefaultConfig()
	cfg.ShowExtremeLines = false
	cfg.ColorDIExtreme = false
	plain := mustNew(t, cfg)
	if len(plain.Lines()) != 1 {
		t.Errorf("lines with extremes hidden = %+v", plain.Lines())
	}
	for _, o := range runAll(t, plain, wave(60, 10, 2)) {
		if o.DIColor != ColorDodgerBlue {
			t.Fatalf("bar %d: color %q with extreme coloring off", o.Index, o.DIColor)
		}
	}
}

func TestDemandIndex_HistoryLimit(t *testing.T) {
	d := mustNew(t, DefaultConfig(), WithHistory(10))
	runAll(t, d, wave(50, 5, 1))
	if _, ok := d.DI(0); ok {
		t.Error("bar 0 should have been trimmed")
	}
	for b := 40; b < 50; b++ {
		if _, ok := d.DI(b); !ok {
			t.Errorf("bar %d should be retained", b)
		}
	}
	if _, ok := d.DI(50); ok {
		t.Error("bar 50 does not exist yet")
	}
}
