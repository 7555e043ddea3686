package model

import "strconv"

// Redis and in-memory names for a symbol's series on a timeframe. The
// timeframe is always rendered as "{seconds}s".

func tfTag(tf int) string { return strconv.Itoa(tf) + "s" }

// SeriesKey returns "SPY:60s", the engine and API key of a series.
func SeriesKey(symbol string, tf int) string {
	return symbol + ":" + tfTag(tf)
}

// CandleStreamKey is the stream closed candles are appended to: "candle:60s:SPY".
func CandleStreamKey(tf int, symbol string) string {
	return "candle:" + tfTag(tf) + ":" + symbol
}

// CandleChannel is the pub/sub channel forming candles are published on.
func CandleChannel(tf int, symbol string) string {
	return "pub:" + CandleStreamKey(tf, symbol)
}

// ResultStreamKey is the stream DI results are appended to: "di:60s:SPY".
func ResultStreamKey(tf int, symbol string) string {
	return "di:" + tfTag(tf) + ":" + symbol
}

// ResultChannel is the pub/sub channel DI results are published on.
func ResultChannel(tf int, symbol string) string {
	return "pub:" + ResultStreamKey(tf, symbol)
}

// LatestResultKey holds the newest result of a series.
func LatestResultKey(tf int, symbol string) string {
	return "di:" + tfTag(tf) + ":latest:" + symbol
}
