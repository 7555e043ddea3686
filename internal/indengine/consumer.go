package indengine

import (
	"context"
	"errors"
	"time"

	"demandindex-plus/internal/indicator"
	"demandindex-plus/internal/logger"
	"demandindex-plus/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeCandles(ctx, svc.streams, svc.candleCh); err != nil {
			svc.log.Error("consumer stopped", "error", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		svc.cfg.PELInterval, svc.cfg.PELMinIdle, svc.candleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			svc.log.Info("reclaimed stale PEL messages", "count", count)
		})
	svc.log.Info("PEL reclaimer started",
		"interval", svc.cfg.PELInterval.String(), "min_idle", svc.cfg.PELMinIdle.String())
}

// processLoop consumes candles from the channel. Closed candles go through
// Process, forming candles through the preview path.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-svc.candleCh:
			if !ok {
				return
			}
			if c.Forming {
				svc.handlePreview(ctx, c)
			} else {
				svc.handleCandle(ctx, c)
			}
		}
	}
}

// handleCandle computes one closed bar, persists candle and result, publishes
// the result and delivers its alert. It reports whether the bar was accepted.
// The bar is stored before mu is released so a recalculation never reads the
// candle store without a bar the engine has already counted.
func (svc *Service) handleCandle(ctx context.Context, c model.Candle) bool {
	start := time.Now()
	svc.mu.Lock()
	if svc.engine == nil {
		svc.mu.Unlock()
		return false
	}
	res, err := svc.engine.Process(c)
	elapsed := time.Since(start)
	if err == nil {
		c.Index = res.Index
		c.Forming = false
		svc.persistLocked(ctx, c, res)
	}
	svc.mu.Unlock()

	if err != nil {
		if errors.Is(err, indicator.ErrOutOfOrder) {
			svc.prom.OutOfOrderBars.Inc()
			svc.log.Debug("dropping stale candle", "key", c.Key(), "ts", c.TS, "error", err)
		} else {
			svc.log.Warn("candle rejected", "key", c.Key(), "error", err)
		}
		return false
	}
	svc.prom.Observe(elapsed, string(res.Signal))
	svc.prom.CandleLag.Set(time.Since(c.TS).Seconds())
	svc.health.RecordBar(c.Key(), c.TS)
	svc.publish(ctx, res)

	if res.Alert != nil {
		svc.deliverAlert(ctx, *res.Alert)
	}
	return true
}

// persistLocked writes a processed candle and its result. Callers hold mu.
func (svc *Service) persistLocked(ctx context.Context, c model.Candle, res model.DIResult) {
	if svc.store == nil {
		return
	}
	start := time.Now()
	if err := svc.store.WriteCandles(ctx, []model.Candle{c}); err != nil {
		svc.log.Error("persist candle", "key", c.Key(), "index", c.Index, "error", err)
	}
	svc.store.WriteResultBatch(ctx, []model.DIResult{res})
	svc.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
}

// handlePreview publishes a live preview for a forming candle. Previews are
// never persisted and never alert.
func (svc *Service) handlePreview(ctx context.Context, c model.Candle) {
	svc.mu.Lock()
	if svc.engine == nil {
		svc.mu.Unlock()
		return
	}
	res, ok := svc.engine.ProcessPeek(c)
	svc.mu.Unlock()
	if !ok {
		return
	}
	res.Alert = nil
	svc.prom.PreviewsTotal.Inc()
	svc.publish(ctx, res)
}

func (svc *Service) publish(ctx context.Context, res model.DIResult) {
	if svc.results != nil {
		start := time.Now()
		svc.results.WriteResultBatch(ctx, []model.DIResult{res})
		svc.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	svc.hub.PublishResult(res)
}

// deliverAlert sends ev to every alert publisher and the websocket hub.
func (svc *Service) deliverAlert(ctx context.Context, ev model.AlertEvent) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(ev.Symbol, ev.TS))
	svc.hub.PublishAlert(ev)
	for _, p := range svc.alerts {
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.PublishAlert(actx, ev)
		cancel()
		if err != nil {
			svc.prom.AlertsFailed.Inc()
			svc.log.Error("alert delivery failed",
				append(logger.LogWithTrace(ctx), "alert", ev.Name, "symbol", ev.Symbol, "error", err)...)
			continue
		}
		svc.prom.AlertsSent.Inc()
	}
	svc.log.Info("alert", append(logger.LogWithTrace(ctx),
		"name", ev.Name, "symbol", ev.Symbol, "index", ev.Index, "message", ev.Message)...)
}
