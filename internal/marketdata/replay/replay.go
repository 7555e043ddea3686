// Package replay reads stored candles and emits them at a configurable speed
// so the indicator engine can be driven from history.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"demandindex-plus/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Replayer reads historical candles from any candle store (SQLite or
// Postgres) and replays them at a configurable speed multiplier.
type Replayer struct {
	reader model.CandleReader
}

// New creates a Replayer backed by reader.
func New(reader model.CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// Load reads every stored candle for symbols on tf from bar fromIndex on,
// merged across symbols in time order. Ties keep symbol order.
func (r *Replayer) Load(ctx context.Context, symbols []string, tf, fromIndex int) ([]model.Candle, error) {
	var all []model.Candle
	for _, sym := range symbols {
		candles, err := r.reader.ReadCandles(ctx, sym, tf, fromIndex)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	return all, nil
}

// Run replays candles for symbols on tf into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// Returns the number of candles emitted.
func (r *Replayer) Run(ctx context.Context, symbols []string, tf, fromIndex int, speed float64, outCh chan<- model.Candle) (int, error) {
	candles, err := r.Load(ctx, symbols, tf, fromIndex)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Println("[replay] no candles found")
		return 0, nil
	}

	log.Printf("[replay] loaded %d candles across %d symbols, speed=%.1fx", len(candles), len(symbols), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range candles {
		if wait := scaledGap(prevTS, c.TS, speed); wait > 0 {
			select {
			case <-ctx.Done():
				return emitted, ctx.Err()
			case <-time.After(wait):
			}
		}
		prevTS = c.TS

		c.Forming = false
		select {
		case outCh <- c:
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}

// scaledGap is the wall-clock wait between two candle times at speed.
func scaledGap(prev, next time.Time, speed float64) time.Duration {
	if speed <= 0 || prev.IsZero() {
		return 0
	}
	gap := next.Sub(prev)
	if gap <= 0 {
		return 0
	}
	scaled := time.Duration(float64(gap) / speed)
	if scaled > maxGap {
		scaled = maxGap
	}
	return scaled
}
