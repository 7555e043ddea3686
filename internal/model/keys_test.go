package model

import "testing"

func TestKeys(t *testing.T) {
	cases := map[string]string{
		SeriesKey("SPY", 60):       "SPY:60s",
		CandleStreamKey(60, "SPY"): "candle:60s:SPY",
		CandleChannel(300, "QQQ"):  "pub:candle:300s:QQQ",
		ResultStreamKey(60, "SPY"): "di:60s:SPY",
		ResultChannel(60, "SPY"):   "pub:di:60s:SPY",
		LatestResultKey(60, "SPY"): "di:60s:latest:SPY",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}

	c := Candle{Symbol: "SPY", TF: 60}
	r := DIResult{Symbol: "SPY", TF: 60}
	if c.Key() != "SPY:60s" || c.StreamKey() != "candle:60s:SPY" {
		t.Errorf("candle keys = %s, %s", c.Key(), c.StreamKey())
	}
	if r.StreamKey() != "di:60s:SPY" || r.PubSubChannel() != "pub:di:60s:SPY" {
		t.Errorf("result keys = %s, %s", r.StreamKey(), r.PubSubChannel())
	}
}
