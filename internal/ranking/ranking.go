// Package ranking computes the global application ranking across every ledger
// spreadsheet and republishes it into each of them.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sheetledger/internal/gateway"
	"sheetledger/internal/infrastructure"
	"sheetledger/internal/ledger"
)

// BandedRows is the number of rows covered by the ranking tab formatting and
// blanked on every write.
const BandedRows = 1000

// Header is the first row of the ranking tab
var Header = []interface{}{"Rank", "Application", "Total Revenue"}

// Entry is one ranked application
type Entry struct {
	Rank        int     `json:"rank"`
	Application string  `json:"application"`
	Total       float64 `json:"totalRevenue"`
}

// Snapshot is the result of the last completed refresh
type Snapshot struct {
	Entries     []Entry   `json:"entries"`
	Ledgers     int       `json:"ledgers"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// Engine refreshes the ranking. Concurrent Refresh calls share one run.
type Engine struct {
	conn    gateway.Connector
	topN    int
	now     func() time.Time
	metrics *infrastructure.WorkerMetrics
	logger  *slog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	latest Snapshot
}

// Option configures an Engine
type Option func(*Engine)

// WithTopN caps the published list; zero publishes every application
func WithTopN(n int) Option {
	return func(e *Engine) { e.topN = n }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records refresh counts and durations
func WithMetrics(m *infrastructure.WorkerMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine reading ledgers through the service identity
// of conn.
func NewEngine(conn gateway.Connector, opts ...Option) *Engine {
	e := &Engine{
		conn:   conn,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "ranking"))
	return e
}

// Latest returns the last snapshot
func (e *Engine) Latest() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Refresh recomputes the ranking and writes it into every ledger. A failure on
// one spreadsheet does not stop the others; the last such error is returned.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err, shared := e.group.Do("refresh", func() (interface{}, error) {
		return nil, e.refresh(ctx)
	})
	if shared {
		e.logger.DebugContext(ctx, "joined in-flight ranking refresh")
	}
	return err
}

func (e *Engine) refresh(ctx context.Context) error {
	start := e.now()

	docs, err := e.conn.Service(ctx)
	if err != nil {
		e.metrics.RankingRefreshed(ctx, time.Since(start), err)
		return err
	}

	files, err := docs.ListFiles(ctx, ledger.LedgerQuery())
	if err != nil {
		e.metrics.RankingRefreshed(ctx, time.Since(start), err)
		return err
	}
	ledgers := make([]gateway.File, 0, len(files))
	for _, f := range files {
		if ledger.IsLedgerTitle(f.Name) {
			ledgers = append(ledgers, f)
		}
	}

	var lastErr error
	var entries []Entry
	for _, f := range ledgers {
		rows, err := docs.ReadRange(ctx, f.ID, ledger.A1(ledger.SummaryTab, "B2:F"))
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to read ledger summary",
				slog.String("spreadsheet_id", f.ID),
				slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		entries = append(entries, e.collect(ctx, f, rows)...)
	}

	entries = Rank(entries)
	if e.topN > 0 && len(entries) > e.topN {
		entries = entries[:e.topN]
	}
	values := Rows(entries)

	for _, f := range ledgers {
		if err := e.publish(ctx, docs, f.ID, values); err != nil {
			e.logger.ErrorContext(ctx, "failed to publish ranking",
				slog.String("spreadsheet_id", f.ID),
				slog.String("error", err.Error()))
			lastErr = err
		}
	}

	e.mu.Lock()
	e.latest = Snapshot{Entries: entries, Ledgers: len(ledgers), RefreshedAt: e.now()}
	e.mu.Unlock()

	e.metrics.RankingRefreshed(ctx, time.Since(start), lastErr)
	e.logger.InfoContext(ctx, "ranking refreshed",
		slog.Int("ledgers", len(ledgers)),
		slog.Int("applications", len(entries)),
		slog.Bool("partial", lastErr != nil))
	return lastErr
}

// collect turns summary rows (B:F) into unranked entries. Rows with fewer
// than five columns are skipped.
func (e *Engine) collect(ctx context.Context, f gateway.File, rows [][]interface{}) []Entry {
	out := make([]Entry, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			continue
		}
		total, err := ledger.CellFloat(row[4])
		if err != nil {
			e.logger.WarnContext(ctx, "skipping summary row with non-numeric total",
				slog.String("spreadsheet_id", f.ID),
				slog.Int("row", i+2))
			continue
		}
		out = append(out, Entry{Application: ledger.CellString(row[0]), Total: total})
	}
	return out
}

// Rank sorts entries by descending total, keeping input order among equal
// totals, and numbers them from 1.
func Rank(entries []Entry) []Entry {
	ranked := append([]Entry(nil), entries...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Total > ranked[j].Total
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Rows renders the ranking tab: the header, one row per entry, then blank
// rows so the write always covers BandedRows rows.
func Rows(entries []Entry) [][]interface{} {
	n := max(len(entries)+1, BandedRows)
	rows := make([][]interface{}, 0, n)
	rows = append(rows, Header)
	for _, en := range entries {
		rows = append(rows, []interface{}{en.Rank, en.Application, en.Total})
	}
	for len(rows) < n {
		rows = append(rows, []interface{}{"", "", ""})
	}
	return rows
}

// publish writes values into the ranking tab of one spreadsheet, creating and
// formatting the tab when it does not exist.
func (e *Engine) publish(ctx context.Context, docs gateway.Documents, spreadsheetID string, values [][]interface{}) error {
	tabs, err := docs.ListTabs(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	exists := false
	for _, t := range tabs {
		if t.Title == ledger.RankingTab {
			exists = true
			break
		}
	}

	if !exists {
		added, err := docs.BatchUpdate(ctx, spreadsheetID, gateway.AddTab{Title: ledger.RankingTab})
		if err != nil {
			return err
		}
		if len(added) != 1 {
			return fmt.Errorf("ranking tab not created in %s", spreadsheetID)
		}
		_, err = docs.BatchUpdate(ctx, spreadsheetID,
			gateway.FormatHeader{TabID: added[0].ID, Bold: true, Shaded: true},
			gateway.BandRows{TabID: added[0].ID, Rows: BandedRows},
		)
		if err != nil {
			return err
		}
	}

	rng := ledger.A1(ledger.RankingTab, fmt.Sprintf("A1:C%d", len(values)))
	return docs.WriteRange(ctx, spreadsheetID, rng, values)
}
