package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"demandindex-plus/internal/model"
	"demandindex-plus/internal/store/postgres"
	sqlitestore "demandindex-plus/internal/store/sqlite"
)

const pgChunk = 1000

// newImportCmd creates the import command
func newImportCmd(load loadFunc) *cobra.Command {
	var (
		symbol string
		tf     int
		target string
		db     string
		dsn    string
	)
	cmd := &cobra.Command{
		Use:   "import FILE.csv",
		Short: "Import OHLCV bars from CSV into SQLite or Postgres",
		Long: `Import OHLCV bars from a CSV file. Columns are time, open, high, low, close,
volume; a header row naming them (time/timestamp/date, open, high, low, close,
volume) may reorder them. Times are RFC 3339, "2006-01-02 15:04:05" in the
session timezone, or unix seconds/milliseconds. Bars at or before the newest
stored bar are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := load()
			if err != nil {
				return err
			}
			if tf <= 0 {
				tf = app.CandleTF
			}
			if db == "" {
				db = app.SQLitePath
			}
			if dsn == "" {
				dsn = app.PostgresDSN
			}
			loc, err := time.LoadLocation(app.SessionTZ)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			candles, err := readCSV(f, strings.ToUpper(symbol), tf, loc)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			var n int
			switch target {
			case "sqlite":
				n, err = importSQLite(ctx, db, candles)
			case "postgres":
				n, err = importPostgres(ctx, dsn, candles)
			default:
				return fmt.Errorf("unknown target %q (sqlite or postgres)", target)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("✓ imported %d of %d bars", n, len(candles))),
				dimStyle.Render(fmt.Sprintf("%s %ds → %s", strings.ToUpper(symbol), tf, target)))
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol the bars belong to")
	cmd.Flags().IntVar(&tf, "tf", 0, "Bar timeframe in seconds (default: $CANDLE_TF)")
	cmd.Flags().StringVar(&target, "target", "sqlite", "Destination store: sqlite or postgres")
	cmd.Flags().StringVar(&db, "db", "", "SQLite path (default: $SQLITE_PATH)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (default: $POSTGRES_DSN)")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

func importSQLite(ctx context.Context, path string, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		return 0, err
	}
	defer w.Close()

	symbol, tf := candles[0].Symbol, candles[0].TF
	next, err := w.NextIndex(ctx, symbol, tf)
	if err != nil {
		return 0, err
	}
	last, err := w.LastTimestamp(ctx, symbol, tf)
	if err != nil {
		return 0, err
	}
	fresh := indexAfter(candles, last, next)
	if len(fresh) == 0 {
		return 0, nil
	}

	ch := make(chan model.Candle, 256)
	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()
	for _, c := range fresh {
		select {
		case ch <- c:
		case <-ctx.Done():
		}
	}
	close(ch)
	<-done

	after, err := w.NextIndex(ctx, symbol, tf)
	if err != nil {
		return 0, err
	}
	if got := after - next; got != len(fresh) {
		return got, fmt.Errorf("stored %d of %d bars", got, len(fresh))
	}
	return len(fresh), nil
}

func importPostgres(ctx context.Context, dsn string, candles []model.Candle) (int, error) {
	if dsn == "" {
		return 0, errors.New("postgres target needs --dsn or POSTGRES_DSN")
	}
	w, err := postgres.NewWriter(ctx, dsn)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	for i := 0; i < len(candles); i += pgChunk {
		end := min(i+pgChunk, len(candles))
		if err := w.WriteCandles(ctx, candles[i:end]); err != nil {
			return i, err
		}
	}
	return len(candles), nil
}

// indexAfter keeps candles newer than last and numbers them from next.
func indexAfter(candles []model.Candle, last time.Time, next int) []model.Candle {
	var out []model.Candle
	for _, c := range candles {
		if !last.IsZero() && !c.TS.After(last) {
			continue
		}
		c.Index = next + len(out)
		out = append(out, c)
	}
	return out
}

type csvColumns [6]int // time, open, high, low, close, volume

var columnNames = [6]string{"time", "open", "high", "low", "close", "volume"}

var defaultColumns = csvColumns{0, 1, 2, 3, 4, 5}

var headerNames = map[string]int{
	"time": 0, "timestamp": 0, "date": 0, "datetime": 0, "ts": 0,
	"open": 1, "high": 2, "low": 3, "close": 4, "volume": 5, "vol": 5,
}

// headerColumns maps a header row to column positions. It reports false when
// the row is data rather than a header.
func headerColumns(row []string) (csvColumns, bool) {
	cols := csvColumns{-1, -1, -1, -1, -1, -1}
	found := 0
	for i, name := range row {
		if slot, ok := headerNames[strings.ToLower(strings.TrimSpace(name))]; ok && cols[slot] < 0 {
			cols[slot] = i
			found++
		}
	}
	if found == 0 {
		return defaultColumns, false
	}
	return cols, true
}

// readCSV parses OHLCV rows into candles sorted by time. A later row for the
// same time replaces an earlier one.
func readCSV(r io.Reader, symbol string, tf int, loc *time.Location) ([]model.Candle, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	cols := defaultColumns
	byTS := make(map[int64]model.Candle)
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 {
			if h, ok := headerColumns(row); ok {
				for slot, pos := range h {
					if pos < 0 {
						return nil, fmt.Errorf("csv header is missing a %s column", columnNames[slot])
					}
				}
				cols = h
				continue
			}
		}
		c, err := parseRow(row, cols, symbol, tf, loc)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		byTS[c.TS.UnixNano()] = c
	}

	out := make([]model.Candle, 0, len(byTS))
	for _, c := range byTS {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func parseRow(row []string, cols csvColumns, symbol string, tf int, loc *time.Location) (model.Candle, error) {
	field := func(slot int) (string, error) {
		if cols[slot] >= len(row) {
			return "", fmt.Errorf("want at least %d fields, got %d", cols[slot]+1, len(row))
		}
		return strings.TrimSpace(row[cols[slot]]), nil
	}

	raw, err := field(0)
	if err != nil {
		return model.Candle{}, err
	}
	ts, err := parseTime(raw, loc)
	if err != nil {
		return model.Candle{}, err
	}

	var vals [5]decimal.Decimal
	for i := range vals {
		s, err := field(i + 1)
		if err != nil {
			return model.Candle{}, err
		}
		if vals[i], err = decimal.NewFromString(s); err != nil {
			return model.Candle{}, fmt.Errorf("%s %q: %w", columnNames[i+1], s, err)
		}
	}
	c := model.Candle{
		Symbol: symbol,
		TF:     tf,
		TS:     ts.UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	if c.High.LessThan(c.Low) {
		return model.Candle{}, fmt.Errorf("high %s below low %s", c.High, c.Low)
	}
	if c.Volume.IsNegative() {
		return model.Candle{}, fmt.Errorf("negative volume %s", c.Volume)
	}
	return c, nil
}

// parseTime accepts RFC 3339, local "2006-01-02 15:04:05" / "2006-01-02 15:04"
// in loc, or unix seconds (milliseconds above 1e12).
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
