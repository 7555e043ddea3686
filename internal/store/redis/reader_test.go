package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

func TestCandleStreamsAndArgs(t *testing.T) {
	streams := CandleStreams([]string{"SPY", "QQQ"}, 60)
	if streams[0] != "candle:60s:SPY" || streams[1] != "candle:60s:QQQ" {
		t.Fatalf("streams = %v", streams)
	}
	args := readGroupArgs(streams)
	want := []string{"candle:60s:SPY", "candle:60s:QQQ", ">", ">"}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args = %v, want %v", args, want)
		}
	}
}

func TestDecodeCandle(t *testing.T) {
	c := model.Candle{
		Symbol:  "SPY",
		TF:      60,
		TS:      time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC),
		Open:    decimal.RequireFromString("500.1"),
		High:    decimal.RequireFromString("501"),
		Low:     decimal.RequireFromString("499.5"),
		Close:   decimal.RequireFromString("500.75"),
		Volume:  decimal.NewFromInt(1200),
		Forming: true, // ignored on stream entries
	}
	got, ok := decodeCandle(map[string]interface{}{"data": string(c.JSON())})
	if !ok {
		t.Fatal("expected candle to decode")
	}
	if got.Forming || !got.Close.Equal(c.Close) || !got.TS.Equal(c.TS) {
		t.Errorf("decoded = %+v", got)
	}

	bad := []map[string]interface{}{
		{},
		{"data": 42},
		{"data": "{not json"},
		{"data": `{"symbol":"","tf":60}`},
		{"data": `{"symbol":"SPY","tf":0}`},
	}
	for _, v := range bad {
		if _, ok := decodeCandle(v); ok {
			t.Errorf("expected %v to be rejected", v)
		}
	}
}

func TestIsBusyGroup(t *testing.T) {
	if !isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("expected BUSYGROUP to match")
	}
	if isBusyGroup(nil) || isBusyGroup(errors.New("ERR no such key")) {
		t.Error("unexpected BUSYGROUP match")
	}
}
