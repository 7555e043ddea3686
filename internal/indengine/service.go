package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"demandindex-plus/internal/gateway"
	"demandindex-plus/internal/indicator"
	"demandindex-plus/internal/levels"
	"demandindex-plus/internal/logger"
	"demandindex-plus/internal/markethours"
	"demandindex-plus/internal/metrics"
	"demandindex-plus/internal/model"
	"demandindex-plus/internal/notification"
	redisstore "demandindex-plus/internal/store/redis"
	sqlitestore "demandindex-plus/internal/store/sqlite"
)

// barStore is the durable side of the pipeline: closed candles and results.
type barStore interface {
	model.CandleWriter
	model.ResultWriter
}

// snapshotStore is a named snapshot backend, tried in order on restore.
type snapshotStore struct {
	name string
	model.SnapshotStore
}

// Service is the top-level orchestrator for the Demand Index engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config
	log *slog.Logger

	// mu guards engine and cfg.Indicator. The engine is single-threaded;
	// the consumer, peek loop, snapshot loop and HTTP API all share it.
	mu         sync.Mutex
	engine     *indicator.Engine
	newTracker func() indicator.LevelTracker
	session    *markethours.Session

	// Ports. New fills them from the concrete stores below.
	candles   indicator.CandleSource
	store     barStore
	results   model.ResultWriter
	alerts    []model.AlertPublisher
	snapshots []snapshotStore

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	natsAlerts  *notification.NATSNotifier

	hub        *gateway.Hub
	prom       *metrics.Metrics
	health     *metrics.HealthStatus
	gatherer   prometheus.Gatherer
	metricsSrv *metrics.Server
	httpSrv    *http.Server

	streams  []string
	candleCh chan model.Candle
}

// newService builds the in-memory parts of a Service: session, level
// trackers, websocket hub and health. Stores are attached by the caller.
func newService(cfg Config, reg *prometheus.Registry) (*Service, error) {
	session, err := markethours.LoadSession(cfg.App.SessionTZ, markethours.DefaultOpen, markethours.DefaultClose)
	if err != nil {
		return nil, err
	}
	if err := session.SetHolidays(cfg.Holidays); err != nil {
		return nil, err
	}
	tick := cfg.App.Tick()

	svc := &Service{
		cfg:     cfg,
		log:     logger.Component("indengine"),
		session: session,
		newTracker: func() indicator.LevelTracker {
			return levels.NewTracker(session, tick)
		},
		hub:      gateway.NewHub(cfg.ReplaySize),
		health:   metrics.NewHealthStatus(3 * time.Duration(cfg.App.CandleTF) * time.Second),
		candleCh: make(chan model.Candle, 5000),
	}
	if reg != nil {
		svc.prom = metrics.NewMetrics(reg)
		svc.gatherer = reg
	} else {
		svc.prom = metrics.NewMetrics(nil)
		svc.gatherer = prometheus.DefaultGatherer
	}
	svc.health.SetSymbols(cfg.Symbols)
	return svc, nil
}

// New creates a Service from cfg. It connects to Redis, opens SQLite and
// builds the alert notifiers. The engine is restored in Run.
func New(cfg Config) (*Service, error) {
	svc, err := newService(cfg, nil)
	if err != nil {
		return nil, err
	}
	app := cfg.App

	// ---- Connect to Redis ----
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          app.RedisAddr,
		Password:      app.RedisPassword,
		ConsumerGroup: app.ConsumerGroup,
		ConsumerName:  app.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     app.RedisAddr,
		Password: app.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.health.SetRedisConnected(true)

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}
	buffered := redisstore.NewBufferedWriter(context.Background(), svc.redisWriter, cb, 0)
	buffered.OnBuffer = func(n int) {
		svc.log.Warn("redis unavailable, buffering results", "pending", n)
	}
	buffered.OnFlush = func(n int) {
		svc.log.Info("flushed buffered results to redis", "count", n)
	}
	svc.results = buffered

	// ---- Open SQLite ----
	if dir := filepath.Dir(app.SQLitePath); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: app.SQLitePath})
	if err != nil {
		svc.redisWriter.Close()
		svc.redisReader.Close()
		return nil, err
	}
	svc.sqlReader, err = sqlitestore.NewReader(app.SQLitePath)
	if err != nil {
		svc.log.Warn("sqlite reader init failed, continuing without backfill", "error", err)
	} else {
		svc.candles = svc.sqlReader
	}
	svc.store = svc.sqlWriter
	svc.health.SetSQLiteOK(true)

	svc.snapshots = []snapshotStore{
		{name: "redis", SnapshotStore: svc.redisWriter},
		{name: "sqlite", SnapshotStore: svc.sqlWriter},
	}

	// ---- Alert delivery ----
	svc.alerts = []model.AlertPublisher{svc.redisWriter, svc.buildNotifiers()}

	svc.metricsSrv = metrics.NewServer(app.MetricsAddr, svc.health, svc.gatherer)
	return svc, nil
}

// buildNotifiers assembles the external alert backends that are configured.
func (svc *Service) buildNotifiers() *notification.Multi {
	app := svc.cfg.App
	var backends []notification.Notifier
	backends = append(backends, notification.NewLogNotifier())
	if app.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(app.WebhookURL))
	}
	if app.TelegramBotToken != "" && app.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(app.TelegramBotToken, app.TelegramChatID))
	}
	if app.NatsURL != "" {
		n, err := notification.NewNATSNotifier(app.NatsURL, app.NatsSubject)
		if err != nil {
			svc.log.Warn("nats notifier disabled", "url", app.NatsURL, "error", err)
		} else {
			svc.natsAlerts = n
			backends = append(backends, n)
		}
	}
	multi := notification.NewMulti(backends...)
	svc.log.Info("alert notifiers ready", "backends", multi.Len())
	return multi
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	svc.log.Info("starting Demand Index engine", "symbols", cfg.Symbols, "tf", cfg.App.CandleTF)

	// ---- Restore engine from snapshot, then catch up from SQLite ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}
	svc.health.SetEngineOK(true)

	svc.streams = redisstore.CandleStreams(cfg.Symbols, cfg.App.CandleTF)
	svc.log.Info("consuming candle streams", "streams", svc.streams)

	// ---- Ensure consumer groups ----
	if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
		svc.log.Warn("consumer group setup", "error", err)
	}

	// ---- Start subsystems ----
	go svc.processLoop(ctx)

	// Pending entries go through the same loop as new ones.
	if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.candleCh); err != nil {
		svc.log.Warn("pending recovery", "error", err)
	}

	svc.startPELReclaimer(ctx)
	svc.startConsumer(ctx)
	go svc.peekLoop(ctx)
	go svc.snapshotLoop(ctx)
	go svc.marketStateLoop(ctx)
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlWriter.DB(), 15*time.Second)
	svc.metricsSrv.Start()
	svc.startHTTP()
	svc.startConfigSubscriber(ctx)

	svc.log.Info("all systems running",
		"http", cfg.App.HTTPAddr,
		"metrics", cfg.App.MetricsAddr,
		"snapshot_interval", cfg.SnapshotInterval().String(),
		"alerts", svc.Indicator().EnableAlerts,
	)

	<-ctx.Done()

	svc.shutdown()
	return nil
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	svc.log.Info("shutdown signal received, saving final snapshot")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.saveSnapshot("shutdown"); err != nil {
		svc.log.Error("final snapshot", "error", err)
	}

	if svc.httpSrv != nil {
		svc.httpSrv.Shutdown(shutCtx)
	}
	if svc.metricsSrv != nil {
		svc.metricsSrv.Stop(shutCtx)
	}
	if svc.natsAlerts != nil {
		svc.natsAlerts.Close()
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	if svc.redisWriter != nil {
		svc.redisWriter.Close()
	}
	if svc.redisReader != nil {
		svc.redisReader.Close()
	}
	svc.log.Info("shutdown complete")
}

// restoreEngine restores the engine from the first usable snapshot, then
// backfills every configured symbol from stored candles. Backfilled bars are
// persisted and cached for websocket clients but never alert.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := indicator.NewRestorer(svc.cfg.Indicator, svc.newTracker, indicator.WithHistory(svc.cfg.HistoryBars))

	engine, err := restorer.RestoreFromSnap(svc.loadSnapshot())
	if err != nil {
		return err
	}

	var backlog []model.DIResult
	n := restorer.Backfill(ctx, engine, svc.candles, svc.cfg.Symbols, svc.cfg.App.CandleTF,
		func(r model.DIResult) {
			r.Alert = nil
			backlog = append(backlog, r)
			svc.hub.PublishResult(r)
		})
	if len(backlog) > 0 && svc.store != nil {
		svc.store.WriteResultBatch(ctx, backlog)
	}
	svc.prom.BackfilledBars.Add(float64(n))
	if n > 0 {
		svc.log.Info("warmed up engine from stored candles", "bars", n)
	}

	svc.mu.Lock()
	svc.engine = engine
	svc.mu.Unlock()
	return nil
}

// loadSnapshot returns the first snapshot that decodes, or nil.
func (svc *Service) loadSnapshot() *indicator.EngineSnapshot {
	for _, s := range svc.snapshots {
		data, err := s.ReadLatestSnapshotJSON()
		if err != nil {
			svc.log.Warn("snapshot read", "store", s.name, "error", err)
			continue
		}
		if data == nil {
			continue
		}
		var snap indicator.EngineSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			svc.log.Warn("snapshot decode", "store", s.name, "error", err)
			continue
		}
		svc.log.Info("found engine snapshot", "store", s.name, "stream_id", snap.StreamID)
		return &snap
	}
	return nil
}

// Indicator returns the active indicator settings.
func (svc *Service) Indicator() indicator.Config {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.cfg.Indicator
}

var errNoEngine = errors.New("indengine: engine not started")
