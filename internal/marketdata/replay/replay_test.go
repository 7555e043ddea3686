package replay

import (
	"context"
	"testing"
	"time"

	"demandindex-plus/internal/model"
)

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

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func series(symbol string, n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Symbol: symbol, TF: 60, Index: i, TS: t0.Add(time.Duration(i) * time.Minute), Forming: true}
	}
	return out
}

func TestRun_MergesSymbolsInTimeOrder(t *testing.T) {
	r := New(memReader{"SPY": series("SPY", 3), "QQQ": series("QQQ", 3)})
	out := make(chan model.Candle, 10)
	n, err := r.Run(context.Background(), []string{"SPY", "QQQ"}, 60, 1, 0, out)
	if err != nil || n != 4 {
		t.Fatalf("Run = %d, %v; want 4", n, err)
	}
	close(out)

	var got []model.Candle
	for c := range out {
		got = append(got, c)
	}
	want := []string{"SPY", "QQQ", "SPY", "QQQ"}
	for i, c := range got {
		if c.Symbol != want[i] {
			t.Errorf("candle %d symbol = %s, want %s", i, c.Symbol, want[i])
		}
		if c.Forming {
			t.Errorf("candle %d should be closed", i)
		}
	}
	if got[0].Index != 1 || !got[3].TS.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("unexpected ordering: %+v", got)
	}
}

func TestRun_Cancelled(t *testing.T) {
	r := New(memReader{"SPY": series("SPY", 5)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := r.Run(ctx, []string{"SPY"}, 60, 0, 0, make(chan model.Candle))
	if err == nil || n != 0 {
		t.Errorf("Run = %d, %v; want cancellation", n, err)
	}
}

func TestScaledGap(t *testing.T) {
	cases := []struct {
		prev  time.Time
		next  time.Time
		speed float64
		want  time.Duration
	}{
		{time.Time{}, t0, 10, 0},
		{t0, t0.Add(time.Minute), 0, 0},
		{t0, t0.Add(time.Minute), 60, time.Second},
		{t0, t0.Add(time.Hour), 1, maxGap},
		{t0.Add(time.Minute), t0, 1, 0},
	}
	for i, tc := range cases {
		if got := scaledGap(tc.prev, tc.next, tc.speed); got != tc.want {
			t.Errorf("case %d: scaledGap = %s, want %s", i, got, tc.want)
		}
	}
}
