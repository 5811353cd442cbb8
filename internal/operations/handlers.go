package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"sheetledger/internal/credentials"
	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/gateway"
	"sheetledger/internal/ledger"
	contracts "sheetledger/pkg/contracts/operations"
)

// ResultOK is the result of operations that produce no identifier
const ResultOK = "ok"

// CredentialSource yields a usable credential for a user
type CredentialSource interface {
	EnsureConnected(ctx context.Context, userID int64) (credentials.Credential, error)
}

// LedgerWriter is the ledger engine as seen by the handlers
type LedgerWriter interface {
	EnsureLedger(ctx context.Context, docs gateway.Documents, title string) (string, error)
	FindLedger(ctx context.Context, docs gateway.Documents, email string) (string, error)
	ProvisionApplicationTabs(ctx context.Context, docs gateway.Documents, spreadsheetID, appName string) error
	ApplyEvent(ctx context.Context, docs gateway.Documents, spreadsheetID string, ev contracts.MonetizationEvent) error
}

// RankingRefresher recomputes the global ranking
type RankingRefresher interface {
	Refresh(ctx context.Context) error
}

// Handlers executes decoded envelopes
type Handlers struct {
	creds   CredentialSource
	conn    gateway.Connector
	ledger  LedgerWriter
	ranking RankingRefresher
	logger  *slog.Logger
}

// NewHandlers wires the handler table
func NewHandlers(creds CredentialSource, conn gateway.Connector, ledger LedgerWriter, ranking RankingRefresher, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		creds:   creds,
		conn:    conn,
		ledger:  ledger,
		ranking: ranking,
		logger:  logger.With(slog.String("component", "handlers")),
	}
}

// Execute runs the handler for env.Kind and returns its textual result
func (h *Handlers) Execute(ctx context.Context, env Envelope) (string, error) {
	switch env.Kind {
	case KindCreateForm:
		return h.createForm(ctx, env)
	case KindCreateSheetWithData:
		return h.createSheetWithData(ctx, env)
	case KindAddAppSheets:
		return h.addAppSheets(ctx, env)
	case KindUpdateMonetization:
		return h.updateMonetization(ctx, env)
	case KindUpdateAppsTop:
		return h.updateAppsTop(ctx)
	case KindUnknown:
		return "", apperrors.Decode("operations.execute", fmt.Errorf("unknown operation %q", env.RawOperation))
	}
	return "", apperrors.Decode("operations.execute", fmt.Errorf("unhandled kind %d", env.Kind))
}

// connect returns delegated documents for the envelope's user
func (h *Handlers) connect(ctx context.Context, userID int64) (gateway.Documents, credentials.Credential, error) {
	cred, err := h.creds.EnsureConnected(ctx, userID)
	if err != nil {
		return nil, credentials.Credential{}, err
	}
	docs, err := h.conn.Delegated(ctx, cred.Tokens())
	if err != nil {
		return nil, credentials.Credential{}, err
	}
	return docs, cred, nil
}

// checkAccount rejects payloads addressed to a different account than the
// one the user connected
func checkAccount(op, payloadEmail string, cred credentials.Credential) error {
	if !strings.EqualFold(strings.TrimSpace(payloadEmail), cred.Email) {
		return apperrors.New(apperrors.KindValidation, op, "googleEmail does not match the connected account").
			WithContext("googleEmail", payloadEmail)
	}
	return nil
}

func (h *Handlers) createForm(ctx context.Context, env Envelope) (string, error) {
	const op = "operations.create_form"

	var spec contracts.FormSpec
	if err := decodePayload(env, &spec); err != nil {
		return "", err
	}
	docs, cred, err := h.connect(ctx, env.UserID)
	if err != nil {
		return "", err
	}
	if err := checkAccount(op, spec.GoogleEmail, cred); err != nil {
		return "", err
	}

	formID, err := docs.CreateForm(ctx, spec.FormTitle)
	if err != nil {
		return "", err
	}
	if err := docs.AddFormItems(ctx, formID, FormItems(spec.Fields)); err != nil {
		return "", err
	}

	h.logger.InfoContext(ctx, "form created",
		slog.Int64("user_id", env.UserID),
		slog.String("form_id", formID),
		slog.Int("items", len(spec.Fields)))
	return formID, nil
}

// FormItems converts a field map into form questions ordered by title.
// "paragraph" and "textarea" become long-answer questions, everything else a
// short answer.
func FormItems(fields map[string]string) []gateway.FormItem {
	titles := make([]string, 0, len(fields))
	for title := range fields {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	items := make([]gateway.FormItem, 0, len(titles))
	for _, title := range titles {
		switch strings.ToLower(strings.TrimSpace(fields[title])) {
		case "paragraph", "textarea":
			items = append(items, gateway.FormItem{Title: title, Paragraph: true})
		default:
			items = append(items, gateway.FormItem{Title: title})
		}
	}
	return items
}

func (h *Handlers) createSheetWithData(ctx context.Context, env Envelope) (string, error) {
	const op = "operations.create_sheet_with_data"

	var spec contracts.SheetWithData
	if err := decodePayload(env, &spec); err != nil {
		return "", err
	}
	docs, cred, err := h.connect(ctx, env.UserID)
	if err != nil {
		return "", err
	}
	if err := checkAccount(op, spec.GoogleEmail, cred); err != nil {
		return "", err
	}

	id, err := docs.CreateSpreadsheet(ctx, spec.SheetTitle)
	if err != nil {
		return "", err
	}
	tabs, err := docs.ListTabs(ctx, id)
	if err != nil {
		return "", err
	}
	if len(tabs) == 0 {
		return "", apperrors.Remote(op, fmt.Errorf("spreadsheet %s has no tabs", id))
	}

	rows := make([][]interface{}, 0, len(spec.Data)+1)
	header := make([]interface{}, len(spec.Headers))
	for i, name := range spec.Headers {
		header[i] = name
	}
	rows = append(rows, header)
	rows = append(rows, spec.Data...)
	if err := docs.WriteRange(ctx, id, ledger.A1(tabs[0].Title, "A1"), rows); err != nil {
		return "", err
	}

	h.logger.InfoContext(ctx, "spreadsheet created",
		slog.Int64("user_id", env.UserID),
		slog.String("spreadsheet_id", id),
		slog.Int("rows", len(spec.Data)))
	return id, nil
}

func (h *Handlers) addAppSheets(ctx context.Context, env Envelope) (string, error) {
	const op = "operations.add_app_sheets"

	var spec contracts.SheetIdentifier
	if err := decodePayload(env, &spec); err != nil {
		return "", err
	}
	docs, cred, err := h.connect(ctx, env.UserID)
	if err != nil {
		return "", err
	}
	if err := checkAccount(op, spec.GoogleEmail, cred); err != nil {
		return "", err
	}

	id, err := h.ledger.EnsureLedger(ctx, docs, spec.SpreadsheetTitle)
	if err != nil {
		return "", err
	}
	if err := h.ledger.ProvisionApplicationTabs(ctx, docs, id, env.AppName); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Handlers) updateMonetization(ctx context.Context, env Envelope) (string, error) {
	const op = "operations.update_monetization"

	var ev contracts.MonetizationEvent
	if err := decodePayload(env, &ev); err != nil {
		return "", err
	}
	if ev.EventType != env.EventType {
		return "", apperrors.Decode(op, fmt.Errorf("payload event type %q does not match attribute %q", ev.EventType, env.EventType))
	}

	docs, cred, err := h.connect(ctx, env.UserID)
	if err != nil {
		return "", err
	}
	id, err := h.ledger.FindLedger(ctx, docs, cred.Email)
	if err != nil {
		return "", err
	}
	if err := h.ledger.ApplyEvent(ctx, docs, id, ev); err != nil {
		return "", err
	}
	return ResultOK, nil
}

func (h *Handlers) updateAppsTop(ctx context.Context) (string, error) {
	if err := h.ranking.Refresh(ctx); err != nil {
		return "", err
	}
	return ResultOK, nil
}
