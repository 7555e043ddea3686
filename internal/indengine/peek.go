package indengine

import (
	"context"
	"time"
)

// peekLoop subscribes to forming-candle Pub/Sub for live DI previews.
func (svc *Service) peekLoop(ctx context.Context) {
	if err := svc.redisReader.SubscribeForming(ctx, svc.cfg.Symbols, svc.cfg.App.CandleTF, svc.candleCh); err != nil {
		svc.log.Error("forming candle subscription", "error", err)
	}
}

// marketStateLoop keeps the market state gauge current.
func (svc *Service) marketStateLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	last := ""
	for {
		now := time.Now()
		open := svc.session.IsOpen(now)
		if open {
			svc.prom.MarketState.Set(1)
		} else {
			svc.prom.MarketState.Set(0)
		}
		svc.health.SetMarketOpen(open)
		if status := svc.session.StatusString(now); status != last {
			svc.log.Info("market session", "status", status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
