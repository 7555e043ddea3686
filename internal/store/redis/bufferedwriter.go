package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"demandindex-plus/internal/model"
)

// resultSink is the pipelined write the breaker guards.
type resultSink interface {
	writeResults(ctx context.Context, results []model.DIResult) error
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, confirmed results are buffered locally and
// flushed when the circuit closes again. Live previews are dropped.
type BufferedWriter struct {
	sink resultSink
	cb   *CircuitBreaker
	ctx  context.Context

	mu     sync.Mutex
	buffer []model.DIResult
	maxBuf int // max buffered results before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func(count int) // called when results are buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered results
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(ctx, w, cb, maxBufferSize)
}

func newBufferedWriter(ctx context.Context, sink resultSink, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		sink:   sink,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.DIResult, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteResultBatch writes results through the circuit breaker. Confirmed
// results from a write that did not reach Redis are buffered; a write abandoned
// by its own context is dropped.
func (bw *BufferedWriter) WriteResultBatch(ctx context.Context, results []model.DIResult) {
	err := bw.cb.Do(ctx, func(ctx context.Context) error {
		return bw.sink.writeResults(ctx, results)
	})
	switch {
	case err == nil:
		if bw.PendingCount() > 0 {
			bw.flush()
		}
	case ctx.Err() != nil:
		log.Printf("[buffered-writer] write abandoned: %v", err)
	default:
		if !errors.Is(err, ErrCircuitOpen) {
			log.Printf("[buffered-writer] write failed, buffering: %v", err)
		}
		bw.bufferResults(results)
	}
}

func (bw *BufferedWriter) bufferResults(results []model.DIResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	n := 0
	for _, r := range results {
		if r.Live {
			continue
		}
		if len(bw.buffer) >= bw.maxBuf {
			// Buffer full: drop oldest
			bw.buffer = bw.buffer[1:]
		}
		bw.buffer = append(bw.buffer, r)
		n++
	}

	if n > 0 && bw.OnBuffer != nil {
		bw.OnBuffer(n)
	}
}

// flush replays all buffered results in one pipeline. Concurrent callers split
// the buffer between them.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.DIResult, 0, 256)
	bw.mu.Unlock()

	err := bw.cb.Do(bw.ctx, func(ctx context.Context) error {
		return bw.sink.writeResults(ctx, toFlush)
	})
	if err != nil {
		log.Printf("[buffered-writer] flush failed, re-buffering %d results: %v", len(toFlush), err)
		bw.bufferResults(toFlush)
		return
	}

	log.Printf("[buffered-writer] flushed %d buffered results", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered results waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
