package cli

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"demandindex-plus/config"
	"demandindex-plus/internal/indicator"
	"demandindex-plus/internal/model"
	sqlitestore "demandindex-plus/internal/store/sqlite"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func wave(symbol string, n, run int, step float64) []model.Candle {
	out := make([]model.Candle, 0, n)
	price := 100.0
	mk := func(i int, open, close float64) model.Candle {
		return model.Candle{
			Symbol: symbol, TF: 60, Index: i,
			TS:     t0.Add(time.Duration(i) * time.Minute),
			Open:   dec(open),
			High:   dec(math.Max(open, close) + 1),
			Low:    dec(math.Min(open, close) - 1),
			Close:  dec(close),
			Volume: dec(1000),
		}
	}
	out = append(out, mk(0, price, price))
	for i := 1; i < n; i++ {
		open := price
		if ((i-1)/run)%2 == 0 {
			price += step
		} else {
			price -= step
		}
		out = append(out, mk(i, open, price))
	}
	return out
}

type memReader map[string][]model.Candle

func (m memReader) ReadCandles(ctx context.Context, symbol string, tf, fromIndex int) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m[symbol] {
		if c.TF == tf && c.Index >= fromIndex {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m memReader) Close() error { return nil }

type memSink struct{ results []model.DIResult }

func (s *memSink) WriteResultBatch(ctx context.Context, results []model.DIResult) {
	s.results = append(s.results, results...)
}

func testApp() *config.Config {
	return &config.Config{
		SessionTZ:     "America/New_York",
		ValueAreaTick: "0.01",
		CandleTF:      60,
		Symbols:       "SPY",
	}
}

// ── csv ──

func TestReadCSV_HeaderReordersColumns(t *testing.T) {
	in := `volume,close,low,high,open,timestamp
1000,101,99,102,100,2024-03-04T14:31:00Z
500,100.5,99.5,101,100,2024-03-04T14:30:00Z
900,102,100,103,101,2024-03-04T14:31:00Z
`
	got, err := readCSV(strings.NewReader(in), "SPY", 60, time.UTC)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (duplicate time collapsed)", len(got))
	}
	if !got[0].TS.Equal(t0) || !got[1].TS.Equal(t0.Add(time.Minute)) {
		t.Errorf("not sorted by time: %s, %s", got[0].TS, got[1].TS)
	}
	if !got[1].Close.Equal(dec(102)) || !got[1].Volume.Equal(dec(900)) {
		t.Errorf("later duplicate should win, got close=%s vol=%s", got[1].Close, got[1].Volume)
	}
	if !got[0].Open.Equal(dec(100)) || !got[0].High.Equal(dec(101)) || !got[0].Low.Equal(dec(99.5)) {
		t.Errorf("columns mapped wrong: %+v", got[0])
	}
	if got[0].Symbol != "SPY" || got[0].TF != 60 {
		t.Errorf("symbol/tf = %s/%d", got[0].Symbol, got[0].TF)
	}
}

func TestReadCSV_NoHeaderUnixTimes(t *testing.T) {
	sec := t0.Unix()
	ms := t0.Add(time.Minute).UnixMilli()
	in := "# exported bars\n" +
		itoa(sec) + ",100,101,99,100.5,10\n" +
		itoa(ms) + ",100.5,102,100,101,20\n"
	got, err := readCSV(strings.NewReader(in), "QQQ", 60, time.UTC)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].TS.Equal(t0) || !got[1].TS.Equal(t0.Add(time.Minute)) {
		t.Errorf("times = %s, %s", got[0].TS, got[1].TS)
	}
	if got[0].TS.Location() != time.UTC {
		t.Errorf("times should be stored in UTC")
	}
}

func itoa(n int64) string { return decimal.NewFromInt(n).String() }

func TestReadCSV_Errors(t *testing.T) {
	cases := map[string]string{
		"high below low":  "2024-03-04T14:30:00Z,100,98,99,100,10\n",
		"negative volume": "2024-03-04T14:30:00Z,100,101,99,100,-1\n",
		"bad number":      "2024-03-04T14:30:00Z,abc,101,99,100,10\n",
		"short row":       "2024-03-04T14:30:00Z,100,101\n",
		"bad time":        "yesterday,100,101,99,100,10\n",
		"missing column":  "time,open,high,low,close\n2024-03-04T14:30:00Z,100,101,99,100\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := readCSV(strings.NewReader(in), "SPY", 60, time.UTC); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := readCSV(strings.NewReader(""), "", 60, time.UTC); err == nil {
		t.Error("empty symbol should fail")
	}
}

func TestParseTime_LocalLayouts(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata: %v", err)
	}
	got, err := parseTime("2024-03-04 09:30", ny)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !got.Equal(t0) {
		t.Errorf("got %s, want %s", got.UTC(), t0)
	}
	got, err = parseTime("2024-03-04 09:30:00", ny)
	if err != nil || !got.Equal(t0) {
		t.Errorf("seconds layout: %s, %v", got, err)
	}
}

func TestIndexAfter(t *testing.T) {
	bars := wave("SPY", 5, 2, 1)

	all := indexAfter(bars, time.Time{}, 10)
	if len(all) != 5 || all[0].Index != 10 || all[4].Index != 14 {
		t.Fatalf("fresh store: %d bars, first index %d", len(all), all[0].Index)
	}

	tail := indexAfter(bars, bars[2].TS, 3)
	if len(tail) != 2 {
		t.Fatalf("len = %d, want 2", len(tail))
	}
	if !tail[0].TS.Equal(bars[3].TS) || tail[0].Index != 3 || tail[1].Index != 4 {
		t.Errorf("tail = %+v", tail)
	}

	if got := indexAfter(bars, bars[4].TS, 5); len(got) != 0 {
		t.Errorf("nothing newer, got %d", len(got))
	}
}

func TestImportSQLite_SkipsStoredBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	ctx := context.Background()
	bars := wave("SPY", 15, 5, 1)

	n, err := importSQLite(ctx, path, bars[:10])
	if err != nil || n != 10 {
		t.Fatalf("first import = %d, %v", n, err)
	}
	n, err = importSQLite(ctx, path, bars)
	if err != nil || n != 5 {
		t.Fatalf("second import = %d, %v; want 5", n, err)
	}

	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	stored, err := r.ReadCandles(ctx, "SPY", 60, 0)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(stored) != 15 {
		t.Fatalf("stored %d bars, want 15", len(stored))
	}
	for i, c := range stored {
		if c.Index != i || !c.TS.Equal(bars[i].TS) {
			t.Fatalf("bar %d: index %d ts %s", i, c.Index, c.TS)
		}
	}
}

// ── replay ──

func TestRunReplay_CountsSignals(t *testing.T) {
	reader := memReader{
		"SPY": wave("SPY", 200, 10, 2),
		"QQQ": wave("QQQ", 120, 8, 1.5),
	}
	newTracker, err := trackerFactory(testApp())
	if err != nil {
		t.Fatalf("trackerFactory: %v", err)
	}
	opts := replayOptions{source: "memory", symbols: []string{"SPY", "QQQ"}, tf: 60, signals: true}
	sink := &memSink{}
	var out bytes.Buffer

	sum, err := runReplay(context.Background(), reader, indicator.DefaultConfig(), newTracker, opts, sink, &out)
	if err != nil {
		t.Fatalf("runReplay: %v", err)
	}
	if sum.Bars != 320 {
		t.Fatalf("bars = %d, want 320", sum.Bars)
	}
	if len(sink.results) != 320 {
		t.Errorf("sink got %d results", len(sink.results))
	}
	if sum.PerSymbol["SPY"].Bars != 200 || sum.PerSymbol["QQQ"].Bars != 120 {
		t.Errorf("per symbol = %d / %d", sum.PerSymbol["SPY"].Bars, sum.PerSymbol["QQQ"].Bars)
	}

	total := 0
	for _, n := range sum.Signals {
		total += n
	}
	if total == 0 {
		t.Fatal("expected signals in the replayed series")
	}
	lines := strings.Count(strings.TrimSpace(out.String()), "\n") + 1
	if lines != total {
		t.Errorf("printed %d signal lines, counted %d", lines, total)
	}
	if !sum.First.Equal(t0) {
		t.Errorf("first = %s", sum.First)
	}
}

func TestRunReplay_FromIndex(t *testing.T) {
	reader := memReader{"SPY": wave("SPY", 50, 5, 1)}
	newTracker, err := trackerFactory(testApp())
	if err != nil {
		t.Fatalf("trackerFactory: %v", err)
	}
	opts := replayOptions{symbols: []string{"SPY"}, tf: 60, from: 20}
	sum, err := runReplay(context.Background(), reader, indicator.DefaultConfig(), newTracker, opts, nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runReplay: %v", err)
	}
	if sum.Bars != 30 {
		t.Errorf("bars = %d, want 30", sum.Bars)
	}
}

func TestRenderSummary(t *testing.T) {
	sum := newReplaySummary(replayOptions{source: "sqlite", tf: 60})
	sum.add(model.DIResult{Symbol: "SPY", TS: t0, DI: dec(12.5), SMA: dec(10)})
	sum.add(model.DIResult{Symbol: "SPY", TS: t0.Add(time.Minute), Signal: model.SignalCrossLong, DI: dec(15), SMA: dec(11)})
	sum.add(model.DIResult{Symbol: "AAPL", TS: t0.Add(2 * time.Minute), Signal: model.SignalReversalShort})

	if sum.Bars != 3 || sum.Signals[model.SignalCrossLong] != 1 || sum.PerSymbol["SPY"].Signals != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	syms := sum.symbols()
	if syms[0].Symbol != "AAPL" || syms[1].Symbol != "SPY" {
		t.Errorf("symbols not sorted: %s, %s", syms[0].Symbol, syms[1].Symbol)
	}

	s := renderSummary(sum)
	for _, want := range []string{"REPLAY COMPLETE", "sqlite (tf=60s)", "SPY", "AAPL", "15.00", string(model.SignalCrossLong)} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

// ── commands ──

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != "dindex dev\n" {
		t.Errorf("output = %q", got)
	}
}

func TestConfigValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("extreme_level: 40\nsma_period: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("extreme_level: 500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(path string) (string, error) {
		cmd := NewRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"config", "validate", path})
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run(good)
	if err != nil {
		t.Fatalf("valid file: %v", err)
	}
	if !strings.Contains(out, "level=40") || !strings.Contains(out, "sma=20") {
		t.Errorf("output = %q", out)
	}
	if _, err := run(bad); err == nil {
		t.Error("out-of-range level should fail")
	}
}

func TestConfigShowCmd_SessionTimezone(t *testing.T) {
	t.Setenv("SESSION_TZ", "America/Chicago")
	t.Setenv("INDICATOR_CONFIG", "")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "show"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "timezone: America/Chicago") {
		t.Errorf("trading window not bound to the session timezone:\n%s", out.String())
	}
}

func TestRunReplay_TimeGateIgnoresTimestampOffset(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tz database not available")
	}
	ind := indicator.DefaultConfig()
	ind.UseTimeFilter = true
	ind = testApp().SessionIndicator(ind)

	utc := wave("SPY", 200, 10, 2)
	local := make([]model.Candle, len(utc))
	for i, c := range utc {
		c.TS = c.TS.In(ny)
		local[i] = c
	}

	run := func(bars []model.Candle) []model.DIResult {
		sink := &memSink{}
		opts := replayOptions{symbols: []string{"SPY"}, tf: 60}
		if _, err := runReplay(context.Background(), memReader{"SPY": bars}, ind, nil, opts, sink, &bytes.Buffer{}); err != nil {
			t.Fatalf("runReplay: %v", err)
		}
		return sink.results
	}
	a, b := run(utc), run(local)
	if len(a) != len(b) || len(a) != len(utc) {
		t.Fatalf("results: utc %d, local %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Signal != b[i].Signal || !a[i].DI.Equal(b[i].DI) {
			t.Fatalf("bar %d: utc %s, local %s", i, a[i].Signal, b[i].Signal)
		}
	}
}

func TestImportCmd_RequiresSymbol(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"import", "bars.csv"})
	if err := cmd.Execute(); err == nil {
		t.Error("import without --symbol should fail")
	}
}
