// Package ledger maintains per-developer revenue ledgers: one spreadsheet per
// developer, four detail tabs per application and a shared summary tab.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/gateway"
	"sheetledger/pkg/contracts/operations"
)

// Engine applies ledger mutations through a gateway.Documents. Events for the
// same application are serialized within the process.
type Engine struct {
	dir       Directory
	locks     *Locks
	shareWith string
	logger    *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithShareWith shares new ledgers with email (the service account, so the
// ranking engine can read them).
func WithShareWith(email string) Option {
	return func(e *Engine) { e.shareWith = email }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine resolving applications through dir
func NewEngine(dir Directory, opts ...Option) *Engine {
	e := &Engine{
		dir:    dir,
		locks:  NewLocks(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "ledger"))
	return e
}

// FindSpreadsheet returns the id of the first spreadsheet titled exactly title
func FindSpreadsheet(ctx context.Context, docs gateway.Documents, title string) (string, bool, error) {
	files, err := docs.ListFiles(ctx, gateway.FileQuery{NameContains: title, MimeType: gateway.MimeSpreadsheet})
	if err != nil {
		return "", false, err
	}
	for _, f := range files {
		if f.Name == title {
			return f.ID, true, nil
		}
	}
	return "", false, nil
}

// FindLedger returns the ledger spreadsheet of the developer owning email
func (e *Engine) FindLedger(ctx context.Context, docs gateway.Documents, email string) (string, error) {
	id, ok, err := FindSpreadsheet(ctx, docs, LedgerTitle(email))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NotFound("ledger.find_ledger", "ledger spreadsheet").WithContext("email", email)
	}
	return id, nil
}

// EnsureLedger returns the spreadsheet titled title, creating it with a
// summary tab when absent.
func (e *Engine) EnsureLedger(ctx context.Context, docs gateway.Documents, title string) (string, error) {
	id, ok, err := FindSpreadsheet(ctx, docs, title)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id, err = docs.CreateSpreadsheet(ctx, title)
	if err != nil {
		return "", err
	}
	if err := e.addSummaryTab(ctx, docs, id); err != nil {
		return "", err
	}
	if e.shareWith != "" {
		if err := docs.ShareFile(ctx, id, e.shareWith); err != nil {
			return "", err
		}
	}

	e.logger.InfoContext(ctx, "ledger spreadsheet created",
		slog.String("spreadsheet_id", id),
		slog.String("title", title))
	return id, nil
}

func (e *Engine) addSummaryTab(ctx context.Context, docs gateway.Documents, spreadsheetID string) error {
	added, err := docs.BatchUpdate(ctx, spreadsheetID, gateway.AddTab{Title: SummaryTab})
	if err != nil {
		return err
	}
	if len(added) == 1 {
		if _, err := docs.BatchUpdate(ctx, spreadsheetID, gateway.FormatHeader{TabID: added[0].ID, Bold: true}); err != nil {
			return err
		}
	}
	return docs.WriteRange(ctx, spreadsheetID, A1(SummaryTab, "A1"), [][]interface{}{SummaryHeader})
}

// ProvisionApplicationTabs (re)creates the four tabs of appName. Existing
// tabs with the same titles are deleted first, so their rows are lost; the
// summary row is never modified, only appended when missing.
func (e *Engine) ProvisionApplicationTabs(ctx context.Context, docs gateway.Documents, spreadsheetID, appName string) error {
	tabs, err := docs.ListTabs(ctx, spreadsheetID)
	if err != nil {
		return err
	}

	canonical := ApplicationTabs(appName)
	wanted := make(map[string]bool, len(canonical))
	for _, t := range canonical {
		wanted[t] = true
	}

	var ops []gateway.Op
	hasSummary := false
	for _, t := range tabs {
		if wanted[t.Title] {
			ops = append(ops, gateway.DeleteTab{TabID: t.ID})
		}
		if t.Title == SummaryTab {
			hasSummary = true
		}
	}
	for _, t := range canonical {
		ops = append(ops, gateway.AddTab{Title: t})
	}

	added, err := docs.BatchUpdate(ctx, spreadsheetID, ops...)
	if err != nil {
		return err
	}

	format := make([]gateway.Op, 0, len(added))
	for _, t := range added {
		format = append(format, gateway.FormatHeader{TabID: t.ID, Bold: true})
	}
	if _, err := docs.BatchUpdate(ctx, spreadsheetID, format...); err != nil {
		return err
	}

	for i, t := range canonical {
		rows := [][]interface{}{DetailHeader}
		if i == 0 {
			rows = [][]interface{}{RevenueHeader, {appName}}
		}
		if err := docs.WriteRange(ctx, spreadsheetID, A1(t, "A1"), rows); err != nil {
			return err
		}
	}

	if !hasSummary {
		if err := e.addSummaryTab(ctx, docs, spreadsheetID); err != nil {
			return err
		}
	}
	if err := e.ensureSummaryRow(ctx, docs, spreadsheetID, appName); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "application tabs provisioned",
		slog.String("spreadsheet_id", spreadsheetID),
		slog.String("app_name", appName),
		slog.Int("replaced", len(ops)-len(canonical)))
	return nil
}

// ensureSummaryRow appends a zeroed summary row for appName when the
// directory knows the application and no row exists yet.
func (e *Engine) ensureSummaryRow(ctx context.Context, docs gateway.Documents, spreadsheetID, appName string) error {
	app, err := e.dir.ApplicationByName(ctx, appName)
	if errors.Is(err, apperrors.ErrNotFound) {
		e.logger.WarnContext(ctx, "application unknown to directory, summary row not added",
			slog.String("app_name", appName))
		return nil
	}
	if err != nil {
		return err
	}

	_, found, err := e.summaryRow(ctx, docs, spreadsheetID, appName)
	if err != nil || found {
		return err
	}

	row := append([]interface{}{app.ID, app.Name}, Revenue{}.Cells()...)
	return docs.AppendRow(ctx, spreadsheetID, A1(SummaryTab, "A:F"), row)
}

// summaryRow returns the 1-based sheet row whose name column equals appName
func (e *Engine) summaryRow(ctx context.Context, docs gateway.Documents, spreadsheetID, appName string) (int, bool, error) {
	names, err := docs.ReadRange(ctx, spreadsheetID, A1(SummaryTab, "B2:B"))
	if err != nil {
		return 0, false, err
	}
	for i, row := range names {
		if len(row) > 0 && CellString(row[0]) == appName {
			return i + 2, true, nil
		}
	}
	return 0, false, nil
}

// ApplyEvent records ev in the ledger: a detail row, the revenue row and the
// summary row. Steps are not rolled back when a later one fails.
func (e *Engine) ApplyEvent(ctx context.Context, docs gateway.Documents, spreadsheetID string, ev operations.MonetizationEvent) error {
	app, err := e.dir.ApplicationByID(ctx, ev.ApplicationID)
	if err != nil {
		return err
	}
	detail, err := DetailTab(app.Name, ev.EventType)
	if err != nil {
		return apperrors.Validation("ledger.apply_event", err)
	}

	unlock := e.locks.Lock(app.ID)
	defer unlock()

	if err := docs.AppendRow(ctx, spreadsheetID, A1(detail, "A:B"), []interface{}{ev.UserID, ev.ItemID}); err != nil {
		return err
	}

	current, err := docs.ReadRange(ctx, spreadsheetID, A1(RevenueTab(app.Name), "B2:D2"))
	if err != nil {
		return err
	}
	var row []interface{}
	if len(current) > 0 {
		row = current[0]
	}
	rev, err := revenueFromCells(row)
	if err != nil {
		return fmt.Errorf("revenue row of %s: %w", app.Name, err)
	}
	rev = Apply(rev, ev.EventType, ev.Amount)

	if err := docs.WriteRange(ctx, spreadsheetID, A1(RevenueTab(app.Name), "B2:E2"), [][]interface{}{rev.Cells()}); err != nil {
		return err
	}

	r, found, err := e.summaryRow(ctx, docs, spreadsheetID, app.Name)
	if err != nil {
		return err
	}
	if !found {
		e.logger.WarnContext(ctx, "no summary row for application, summary not updated",
			slog.String("spreadsheet_id", spreadsheetID),
			slog.String("app_name", app.Name))
		return nil
	}

	if err := docs.WriteRange(ctx, spreadsheetID, A1(SummaryTab, fmt.Sprintf("C%d:F%d", r, r)), [][]interface{}{rev.Cells()}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "monetization event applied",
		slog.String("app_name", app.Name),
		slog.String("event_type", string(ev.EventType)),
		slog.Float64("amount", ev.Amount),
		slog.Float64("total", rev.Total))
	return nil
}
