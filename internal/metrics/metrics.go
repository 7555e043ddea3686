package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the Demand Index engine.
type Metrics struct {
	BarsTotal       prometheus.Counter
	PreviewsTotal   prometheus.Counter
	OutOfOrderBars  prometheus.Counter
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	CandleLag       prometheus.Gauge

	// Indicator engine metrics
	IndicatorComputeDur prometheus.Histogram
	SignalsTotal        *prometheus.CounterVec // labels: kind
	Recalculations      prometheus.Counter
	BackfilledBars      prometheus.Counter

	// Alert delivery
	AlertsSent   prometheus.Counter
	AlertsFailed prometheus.Counter

	// PEL reclaim metrics
	PELMessagesReclaimed prometheus.Counter

	// Circuit breaker metrics
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Snapshots
	SnapshotSaves  *prometheus.CounterVec // labels: store
	SnapshotErrors prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all Prometheus metrics and registers them on reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_bars_total",
			Help: "Closed bars processed by the indicator engine",
		}),
		PreviewsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_previews_total",
			Help: "Forming-bar previews computed",
		}),
		OutOfOrderBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_out_of_order_bars_total",
			Help: "Bars rejected because they were not newer than the last processed bar",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dindex_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dindex_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dindex_candle_lag_seconds",
			Help: "Lag between candle timestamp and processing time",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dindex_compute_duration_seconds",
			Help:    "Demand Index compute latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dindex_signals_total",
			Help: "Signals fired (by kind)",
		}, []string{"kind"}),
		Recalculations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_recalculations_total",
			Help: "Full recalculations after a configuration change or request",
		}),
		BackfilledBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_backfilled_bars_total",
			Help: "Bars replayed from storage on startup",
		}),

		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_alerts_sent_total",
			Help: "Alerts delivered to every notifier",
		}),
		AlertsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_alerts_failed_total",
			Help: "Alerts where at least one notifier failed",
		}),

		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dindex_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		SnapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dindex_snapshot_saves_total",
			Help: "Engine snapshots saved (by store)",
		}, []string{"store"}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dindex_snapshot_errors_total",
			Help: "Engine snapshot save failures",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dindex_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.PreviewsTotal,
		m.OutOfOrderBars,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.CandleLag,
		m.IndicatorComputeDur,
		m.SignalsTotal,
		m.Recalculations,
		m.BackfilledBars,
		m.AlertsSent,
		m.AlertsFailed,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.SnapshotSaves,
		m.SnapshotErrors,
		m.MarketState,
	)

	return m
}

// HealthStatus tracks dependency probes and bar freshness for /healthz. A
// series counts as stale only while the market is open.
type HealthStatus struct {
	mu         sync.RWMutex
	startedAt  time.Time
	now        func() time.Time
	staleAfter time.Duration

	engineOK   bool
	marketOpen bool
	symbols    []string
	lastBars   map[string]time.Time // series key -> newest bar time
	redis      probe
	sqlite     probe
	lastCheck  time.Time
}

type probe struct {
	ok      bool
	latency time.Duration
}

// HealthReport is the /healthz body.
type HealthReport struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	EngineOK        bool              `json:"engine_ok"`
	MarketOpen      bool              `json:"market_open"`
	RedisConnected  bool              `json:"redis_connected"`
	RedisLatencyMs  float64           `json:"redis_latency_ms"`
	SQLiteOK        bool              `json:"sqlite_ok"`
	SQLiteLatencyMs float64           `json:"sqlite_latency_ms"`
	Symbols         []string          `json:"symbols"`
	LastBars        map[string]string `json:"last_bars"`
	StaleSeries     []string          `json:"stale_series,omitempty"`
	LastCheckAt     string            `json:"last_check_at,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusStale     = "stale"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// NewHealthStatus creates a health tracker that reports a series stale when
// no bar newer than staleAfter has arrived during market hours. Zero disables
// the staleness check.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		startedAt:  time.Now(),
		now:        time.Now,
		staleAfter: staleAfter,
		lastBars:   make(map[string]time.Time),
	}
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.engineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.marketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.symbols = append([]string(nil), symbols...)
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.redis.ok = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.sqlite.ok = v
	h.mu.Unlock()
}

// RecordBar notes the newest bar time seen for a series.
func (h *HealthStatus) RecordBar(key string, ts time.Time) {
	h.mu.Lock()
	if ts.After(h.lastBars[key]) {
		h.lastBars[key] = ts
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	h.check(&h.redis, func() error { return rdb.Ping(ctx).Err() })
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	h.check(&h.sqlite, func() error { return db.PingContext(ctx) })
}

func (h *HealthStatus) check(p *probe, ping func() error) {
	start := time.Now()
	err := ping()
	latency := time.Since(start)

	h.mu.Lock()
	p.ok = err == nil
	p.latency = latency
	h.lastCheck = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Report summarizes the current health.
func (h *HealthStatus) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	r := HealthReport{
		Status:          StatusHealthy,
		Uptime:          now.Sub(h.startedAt).Round(time.Second).String(),
		EngineOK:        h.engineOK,
		MarketOpen:      h.marketOpen,
		RedisConnected:  h.redis.ok,
		RedisLatencyMs:  float64(h.redis.latency.Microseconds()) / 1000,
		SQLiteOK:        h.sqlite.ok,
		SQLiteLatencyMs: float64(h.sqlite.latency.Microseconds()) / 1000,
		Symbols:         h.symbols,
		LastBars:        make(map[string]string, len(h.lastBars)),
	}
	if !h.lastCheck.IsZero() {
		r.LastCheckAt = h.lastCheck.Format(time.RFC3339)
	}
	for key, ts := range h.lastBars {
		r.LastBars[key] = ts.Format(time.RFC3339)
		if h.marketOpen && h.staleAfter > 0 && now.Sub(ts) > h.staleAfter {
			r.StaleSeries = append(r.StaleSeries, key)
		}
	}
	sort.Strings(r.StaleSeries)

	switch {
	case !h.redis.ok && !h.sqlite.ok:
		r.Status = StatusUnhealthy
	case !h.engineOK || !h.redis.ok || !h.sqlite.ok:
		r.Status = StatusDegraded
	case len(r.StaleSeries) > 0:
		r.Status = StatusStale
	}
	return r
}

// ServeHTTP handles /healthz. Degraded and unhealthy answer 503; stale answers 200.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusDegraded || report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// NewServer creates a metrics and health server. gatherer defaults to the
// default Prometheus registry when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

// Observe records a processed bar's compute time and any signal it fired.
func (m *Metrics) Observe(elapsed time.Duration, signal string) {
	m.BarsTotal.Inc()
	m.IndicatorComputeDur.Observe(elapsed.Seconds())
	if signal != "" {
		m.SignalsTotal.WithLabelValues(signal).Inc()
	}
}
