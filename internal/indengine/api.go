package indengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"demandindex-plus/config"
	"demandindex-plus/internal/indicator"
	"demandindex-plus/internal/model"
	redisstore "demandindex-plus/internal/store/redis"
)

const maxConfigBody = 64 << 10

// startHTTP launches the API server: /config, /recalculate, /series,
// /ws, /ws/missed and /healthz.
func (svc *Service) startHTTP() {
	svc.httpSrv = &http.Server{
		Addr:              svc.cfg.App.HTTPAddr,
		Handler:           svc.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		svc.log.Info("HTTP API listening", "addr", svc.cfg.App.HTTPAddr)
		if err := svc.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			svc.log.Error("HTTP server", "error", err)
		}
	}()
}

func (svc *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/config", svc.handleConfig)
	mux.HandleFunc("/recalculate", svc.handleRecalculate)
	mux.HandleFunc("/series", svc.handleSeries)
	mux.HandleFunc("/ws", svc.hub.ServeWS)
	mux.HandleFunc("/ws/missed", svc.hub.ServeMissed)
	mux.Handle("/healthz", svc.health)
	return mux
}

// handleConfig serves GET (current settings) and POST (partial update in
// JSON or YAML, layered over the current settings).
func (svc *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, svc.Indicator())
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		next, err := config.MergeIndicator(svc.Indicator(), body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		replayed, bars, err := svc.applyConfig(r.Context(), next)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"recalculated": replayed,
			"bars":         bars,
			"config":       next,
		})
	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

// handleRecalculate handles POST /recalculate?symbol=SPY[&tf=60]. The symbol
// is reset and replayed from its stored candles.
func (svc *Service) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	symbol, tf, err := svc.seriesParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	svc.mu.Lock()
	results, err := svc.recalculateLocked(r.Context(), symbol, tf)
	svc.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"tf":     tf,
		"bars":   len(results),
	})
}

type seriesBar struct {
	Index   int             `json:"index"`
	DI      decimal.Decimal `json:"di"`
	SMA     decimal.Decimal `json:"sma"`
	DIColor model.Color     `json:"di_color,omitempty"`
	Paint   model.Color     `json:"paint,omitempty"`
}

type seriesLine struct {
	Name  string      `json:"name"`
	Value int         `json:"value"`
	Color model.Color `json:"color"`
}

type seriesResponse struct {
	Symbol    string       `json:"symbol"`
	TF        int          `json:"tf"`
	NextIndex int          `json:"next_index"`
	Lines     []seriesLine `json:"lines"`
	Bars      []seriesBar  `json:"bars"`
}

// handleSeries handles GET /series?symbol=SPY[&tf=60][&from=0]. It returns
// the retained DI history with line colors, candle paint and reference lines.
func (svc *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	symbol, tf, err := svc.seriesParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = strconv.Atoi(v); err != nil || from < 0 {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
	}

	svc.mu.Lock()
	resp, ok := svc.series(symbol, tf, from)
	svc.mu.Unlock()
	if !ok {
		http.Error(w, "unknown series "+symbol+":"+strconv.Itoa(tf)+"s", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (svc *Service) series(symbol string, tf, from int) (seriesResponse, bool) {
	if svc.engine == nil {
		return seriesResponse{}, false
	}
	di, ok := svc.engine.Instance(symbol, tf)
	if !ok {
		return seriesResponse{}, false
	}
	resp := seriesResponse{Symbol: symbol, TF: tf, NextIndex: di.NextIndex()}
	for _, l := range di.Lines() {
		resp.Lines = append(resp.Lines, seriesLine{Name: l.Name, Value: l.Value, Color: l.Color})
	}
	resp.Bars = make([]seriesBar, 0)
	for b := from; b < resp.NextIndex; b++ {
		v, ok := di.DI(b)
		if !ok {
			continue
		}
		sma, _ := di.SMA(b)
		paint, _ := di.PaintColor(b)
		resp.Bars = append(resp.Bars, seriesBar{
			Index:   b,
			DI:      v,
			SMA:     sma,
			DIColor: di.DIColor(b),
			Paint:   paint,
		})
	}
	return resp, true
}

func (svc *Service) seriesParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		return "", 0, fmt.Errorf("symbol is required")
	}
	tf := svc.cfg.App.CandleTF
	if v := q.Get("tf"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("invalid tf %q", v)
		}
		tf = n
	}
	return symbol, tf, nil
}

// applyConfig reconfigures the engine. When computed values change, every
// known series is recalculated from its stored candles; it reports that and
// the number of bars replayed.
func (svc *Service) applyConfig(ctx context.Context, next indicator.Config) (bool, int, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.engine == nil {
		return false, 0, errNoEngine
	}
	next = svc.cfg.App.SessionIndicator(next)

	replay, err := svc.engine.Reconfigure(next)
	if err != nil {
		return false, 0, err
	}
	svc.cfg.Indicator = next
	if !replay {
		svc.log.Info("indicator config updated", "enable_alerts", next.EnableAlerts)
		return false, 0, nil
	}

	bars := 0
	for _, k := range svc.engine.Keys() {
		symbol, tf, ok := splitKey(k)
		if !ok {
			continue
		}
		results, err := svc.recalculateLocked(ctx, symbol, tf)
		if err != nil {
			svc.log.Error("recalculate after reconfigure", "key", k, "error", err)
			continue
		}
		bars += len(results)
	}
	svc.log.Info("indicator config updated, series recalculated", "series", len(svc.engine.Keys()), "bars", bars)
	return true, bars, nil
}

// recalculateLocked replays symbol/tf from bar 0. Recomputed results replace
// the stored ones; the newest is pushed to websocket clients. Callers hold mu.
func (svc *Service) recalculateLocked(ctx context.Context, symbol string, tf int) ([]model.DIResult, error) {
	if svc.engine == nil {
		return nil, errNoEngine
	}
	if svc.candles == nil {
		return nil, fmt.Errorf("indengine: no candle store for recalculation")
	}
	candles, err := svc.candles.ReadCandles(ctx, symbol, tf, 0)
	if err != nil {
		return nil, fmt.Errorf("read %s candles: %w", symbol, err)
	}
	results, err := svc.engine.Recalculate(symbol, tf, candles)
	if err != nil {
		return results, err
	}
	svc.prom.Recalculations.Inc()
	if svc.store != nil && len(results) > 0 {
		svc.store.WriteResultBatch(ctx, results)
	}
	if n := len(results); n > 0 {
		last := results[n-1]
		last.Alert = nil
		svc.hub.PublishResult(last)
	}
	svc.log.Info("recalculated series", "symbol", symbol, "tf", tf, "bars", len(results))
	return results, nil
}

// startConfigSubscriber listens on Redis Pub/Sub for remote config updates.
// Payloads are partial settings in JSON or YAML.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, redisstore.ConfigChannel)
		if pubsub == nil {
			svc.log.Warn("could not subscribe to config channel", "channel", redisstore.ConfigChannel)
			return
		}
		defer pubsub.Close()
		svc.log.Info("subscribed for dynamic reconfiguration", "channel", redisstore.ConfigChannel)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				svc.handleConfigMessage(ctx, msg.Payload)
			}
		}
	}()
}

func (svc *Service) handleConfigMessage(ctx context.Context, payload string) {
	next, err := config.MergeIndicator(svc.Indicator(), []byte(payload))
	if err != nil {
		svc.log.Warn("invalid config update", "error", err)
		return
	}
	if _, _, err := svc.applyConfig(ctx, next); err != nil {
		svc.log.Error("apply config update", "error", err)
	}
}

// splitKey parses an engine key "SYMBOL:60s".
func splitKey(k string) (string, int, bool) {
	i := strings.LastIndexByte(k, ':')
	if i <= 0 {
		return "", 0, false
	}
	tf, err := strconv.Atoi(strings.TrimSuffix(k[i+1:], "s"))
	if err != nil {
		return "", 0, false
	}
	return k[:i], tf, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
