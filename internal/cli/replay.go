package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"demandindex-plus/config"
	"demandindex-plus/internal/indicator"
	"demandindex-plus/internal/levels"
	"demandindex-plus/internal/marketdata/replay"
	"demandindex-plus/internal/markethours"
	"demandindex-plus/internal/model"
	"demandindex-plus/internal/store/postgres"
	sqlitestore "demandindex-plus/internal/store/sqlite"
)

type replayOptions struct {
	source  string
	db      string
	dsn     string
	symbols []string
	tf      int
	from    int
	speed   float64
	signals bool
	save    bool
}

// candleStore is a readable candle store that can list its symbols.
type candleStore interface {
	model.CandleReader
	Symbols(ctx context.Context, tf int) ([]string, error)
}

// newReplayCmd creates the replay command
func newReplayCmd(load loadFunc) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored bars through the Demand Index and summarize signals",
		Long: `Replay stored bars from SQLite or Postgres through a fresh engine. Every bar
is computed exactly as the live service would; signals are listed and counted.

Example: dindex replay --source postgres --symbols SPY,QQQ --speed 0 --signals`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ind, err := load()
			if err != nil {
				return err
			}
			if opts.tf <= 0 {
				opts.tf = app.CandleTF
			}
			if opts.db == "" {
				opts.db = app.SQLitePath
			}
			if opts.dsn == "" {
				opts.dsn = app.PostgresDSN
			}

			ctx, cancel := signalContext()
			defer cancel()

			store, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(opts.symbols) == 0 {
				if opts.symbols, err = store.Symbols(ctx, opts.tf); err != nil {
					return err
				}
			}
			if len(opts.symbols) == 0 {
				return fmt.Errorf("no symbols stored for tf=%ds", opts.tf)
			}

			newTracker, err := trackerFactory(app)
			if err != nil {
				return err
			}

			var sink model.ResultWriter
			if opts.save {
				if opts.source != "sqlite" {
					return fmt.Errorf("--save needs --source sqlite")
				}
				w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: opts.db})
				if err != nil {
					return err
				}
				defer w.Close()
				sink = w
			}

			sum, err := runReplay(ctx, store, ind, newTracker, opts, sink, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(sum))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "sqlite", "Bar store: sqlite or postgres")
	cmd.Flags().StringVar(&opts.db, "db", "", "SQLite path (default: $SQLITE_PATH)")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "Postgres DSN (default: $POSTGRES_DSN)")
	cmd.Flags().StringSliceVar(&opts.symbols, "symbols", nil, "Symbols to replay (default: every stored symbol)")
	cmd.Flags().IntVar(&opts.tf, "tf", 0, "Bar timeframe in seconds (default: $CANDLE_TF)")
	cmd.Flags().IntVar(&opts.from, "from", 0, "First bar index to replay")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "Playback speed (0=max, 1=realtime, 100=100x)")
	cmd.Flags().BoolVar(&opts.signals, "signals", false, "Print every signal as it fires")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Store computed results in SQLite")
	return cmd
}

func openStore(ctx context.Context, opts replayOptions) (candleStore, error) {
	switch opts.source {
	case "sqlite":
		return sqlitestore.NewReader(opts.db)
	case "postgres":
		if opts.dsn == "" {
			return nil, fmt.Errorf("postgres source needs --dsn or POSTGRES_DSN")
		}
		return postgres.NewReader(ctx, opts.dsn)
	default:
		return nil, fmt.Errorf("unknown source %q (sqlite or postgres)", opts.source)
	}
}

// trackerFactory builds session level trackers for app's session settings.
func trackerFactory(app *config.Config) (func() indicator.LevelTracker, error) {
	session, err := markethours.LoadSession(app.SessionTZ, markethours.DefaultOpen, markethours.DefaultClose)
	if err != nil {
		return nil, err
	}
	tick := app.Tick()
	return func() indicator.LevelTracker { return levels.NewTracker(session, tick) }, nil
}

// runReplay feeds stored bars through a fresh engine and tallies the results.
func runReplay(ctx context.Context, reader model.CandleReader, ind indicator.Config,
	newTracker func() indicator.LevelTracker, opts replayOptions, sink model.ResultWriter, out io.Writer) (*replaySummary, error) {
	engine, err := indicator.NewEngine(ind, newTracker)
	if err != nil {
		return nil, err
	}

	candleCh := make(chan model.Candle, 1024)
	resultCh := make(chan model.DIResult, 1024)

	errCh := make(chan error, 1)
	go func() {
		defer close(candleCh)
		_, err := replay.New(reader).Run(ctx, opts.symbols, opts.tf, opts.from, opts.speed, candleCh)
		errCh <- err
	}()
	go func() {
		defer close(resultCh)
		engine.Run(ctx, candleCh, resultCh)
	}()

	sum := newReplaySummary(opts)
	start := time.Now()
	batch := make([]model.DIResult, 0, 500)
	for r := range resultCh {
		sum.add(r)
		if opts.signals && r.Signal != model.SignalNone {
			fmt.Fprintln(out, formatSignal(r))
		}
		if sink != nil {
			batch = append(batch, r)
			if len(batch) == cap(batch) {
				sink.WriteResultBatch(ctx, batch)
				batch = batch[:0]
			}
		}
	}
	if sink != nil && len(batch) > 0 {
		sink.WriteResultBatch(ctx, batch)
	}
	sum.Elapsed = time.Since(start)

	if err := <-errCh; err != nil && ctx.Err() == nil {
		return sum, err
	}
	return sum, nil
}

type symbolStats struct {
	Symbol  string
	Bars    int
	Signals int
	LastDI  decimal.Decimal
	LastSMA decimal.Decimal
	LastTS  time.Time
}

type replaySummary struct {
	Source    string
	TF        int
	Bars      int
	Alerts    int
	Signals   map[model.SignalKind]int
	PerSymbol map[string]*symbolStats
	First     time.Time
	Last      time.Time
	Elapsed   time.Duration
}

func newReplaySummary(opts replayOptions) *replaySummary {
	return &replaySummary{
		Source:    opts.source,
		TF:        opts.tf,
		Signals:   make(map[model.SignalKind]int),
		PerSymbol: make(map[string]*symbolStats),
	}
}

func (s *replaySummary) add(r model.DIResult) {
	s.Bars++
	if s.First.IsZero() || r.TS.Before(s.First) {
		s.First = r.TS
	}
	if r.TS.After(s.Last) {
		s.Last = r.TS
	}
	st, ok := s.PerSymbol[r.Symbol]
	if !ok {
		st = &symbolStats{Symbol: r.Symbol}
		s.PerSymbol[r.Symbol] = st
	}
	st.Bars++
	st.LastDI, st.LastSMA, st.LastTS = r.DI, r.SMA, r.TS
	if r.Signal != model.SignalNone {
		s.Signals[r.Signal]++
		st.Signals++
	}
	if r.Alert != nil {
		s.Alerts++
	}
}

// symbols returns per-symbol stats sorted by symbol.
func (s *replaySummary) symbols() []*symbolStats {
	out := make([]*symbolStats, 0, len(s.PerSymbol))
	for _, st := range s.PerSymbol {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
