// Package gatewaytest provides an in-memory document service for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/gateway"
)

// Sheet is one tab of a fake spreadsheet
type Sheet struct {
	ID           int64
	Title        string
	Rows         [][]interface{}
	HeaderBold   bool
	HeaderShaded bool
	BandedRows   int64
}

// Spreadsheet is a fake spreadsheet
type Spreadsheet struct {
	ID     string
	Title  string
	Tabs   []*Sheet
	Shares []string
	nextID int64
}

// Form is a fake form
type Form struct {
	ID    string
	Title string
	Items []gateway.FormItem
}

// Identity is what FetchVerifiedEmail answers for an access token
type Identity struct {
	Email    string
	Verified bool
}

// Call records one capability invocation
type Call struct {
	Capability    string
	SpreadsheetID string
	Range         string
}

// Fake implements gateway.Documents, gateway.Authorizer and gateway.Connector
// over in-memory state. Both connector identities share the same documents.
type Fake struct {
	mu sync.Mutex

	spreadsheets map[string]*Spreadsheet
	order        []string
	forms        map[string]*Form
	failures     map[string]error
	calls        []Call
	seq          int

	// Exchanges maps an authorization code to the tokens it yields
	Exchanges map[string]gateway.TokenSet
	// Identities maps an access token to its account
	Identities map[string]Identity
	// Refresh answers RefreshToken; nil fails with a transient error
	Refresh func(refreshToken string) (gateway.TokenSet, error)

	// Delegations records the tokens passed to Delegated
	Delegations []gateway.TokenSet
}

var (
	_ gateway.Documents  = (*Fake)(nil)
	_ gateway.Authorizer = (*Fake)(nil)
	_ gateway.Connector  = (*Fake)(nil)
)

// New returns an empty fake
func New() *Fake {
	return &Fake{
		spreadsheets: make(map[string]*Spreadsheet),
		forms:        make(map[string]*Form),
		failures:     make(map[string]error),
		Exchanges:    make(map[string]gateway.TokenSet),
		Identities:   make(map[string]Identity),
	}
}

// FailOn makes capability fail with err. A non-empty spreadsheetID limits the
// failure to that document. A nil err clears the failure.
func (f *Fake) FailOn(capability, spreadsheetID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := capability + "|" + spreadsheetID
	if err == nil {
		delete(f.failures, key)
		return
	}
	f.failures[key] = err
}

// Calls returns the recorded calls of capability, or all calls when empty
func (f *Fake) Calls(capability string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if capability == "" || c.Capability == capability {
			out = append(out, c)
		}
	}
	return out
}

// AddSpreadsheet seeds a spreadsheet with the given tab titles and returns
// its id.
func (f *Fake) AddSpreadsheet(title string, tabs ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss := f.newSpreadsheet(title)
	for _, t := range tabs {
		ss.Tabs = append(ss.Tabs, &Sheet{ID: ss.nextID, Title: t})
		ss.nextID++
	}
	return ss.ID
}

// Spreadsheet returns a spreadsheet by id
func (f *Fake) Spreadsheet(id string) (*Spreadsheet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss, ok := f.spreadsheets[id]
	return ss, ok
}

// Tab returns a tab by spreadsheet id and title
func (f *Fake) Tab(spreadsheetID, title string) (*Sheet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss, ok := f.spreadsheets[spreadsheetID]
	if !ok {
		return nil, false
	}
	t := ss.tab(title)
	return t, t != nil
}

// Form returns a form by id
func (f *Fake) Form(id string) (*Form, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[id]
	return form, ok
}

func (f *Fake) record(capability, spreadsheetID, rng string) error {
	f.calls = append(f.calls, Call{Capability: capability, SpreadsheetID: spreadsheetID, Range: rng})
	if err, ok := f.failures[capability+"|"+spreadsheetID]; ok {
		return apperrors.Remote("gatewaytest."+capability, err)
	}
	if err, ok := f.failures[capability+"|"]; ok {
		return apperrors.Remote("gatewaytest."+capability, err)
	}
	return nil
}

func (f *Fake) newSpreadsheet(title string) *Spreadsheet {
	f.seq++
	ss := &Spreadsheet{ID: fmt.Sprintf("ss-%d", f.seq), Title: title}
	f.spreadsheets[ss.ID] = ss
	f.order = append(f.order, ss.ID)
	return ss
}

func (f *Fake) lookup(op, spreadsheetID string) (*Spreadsheet, error) {
	ss, ok := f.spreadsheets[spreadsheetID]
	if !ok {
		return nil, apperrors.Remote(op, fmt.Errorf("spreadsheet %s not found", spreadsheetID))
	}
	return ss, nil
}

func (ss *Spreadsheet) tab(title string) *Sheet {
	for _, t := range ss.Tabs {
		if t.Title == title {
			return t
		}
	}
	return nil
}

// CreateSpreadsheet creates a spreadsheet holding a default "Sheet1" tab
func (f *Fake) CreateSpreadsheet(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSpreadsheet", "", ""); err != nil {
		return "", err
	}
	ss := f.newSpreadsheet(title)
	ss.Tabs = append(ss.Tabs, &Sheet{ID: 0, Title: "Sheet1"})
	ss.nextID = 1
	return ss.ID, nil
}

// ReadRange returns the values of rng with trailing blanks trimmed
func (f *Fake) ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReadRange", spreadsheetID, rng); err != nil {
		return nil, err
	}
	ss, err := f.lookup("gatewaytest.ReadRange", spreadsheetID)
	if err != nil {
		return nil, err
	}
	a, err := ParseA1(rng)
	if err != nil {
		return nil, apperrors.Remote("gatewaytest.ReadRange", err)
	}
	tab := ss.tab(a.Tab)
	if tab == nil {
		return nil, apperrors.Remote("gatewaytest.ReadRange", fmt.Errorf("unable to parse range: %s", rng))
	}

	var out [][]interface{}
	lastRow := len(tab.Rows) - 1
	if a.EndRow >= 0 && a.EndRow < lastRow {
		lastRow = a.EndRow
	}
	for r := a.StartRow; r <= lastRow; r++ {
		src := tab.Rows[r]
		var row []interface{}
		lastCol := len(src) - 1
		if a.EndCol >= 0 && a.EndCol < lastCol {
			lastCol = a.EndCol
		}
		for c := a.StartCol; c <= lastCol; c++ {
			v := src[c]
			if v == nil {
				v = ""
			}
			row = append(row, v)
		}
		out = append(out, trimRow(row))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// WriteRange overwrites cells starting at the top-left of rng
func (f *Fake) WriteRange(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WriteRange", spreadsheetID, rng); err != nil {
		return err
	}
	tab, a, err := f.target("gatewaytest.WriteRange", spreadsheetID, rng)
	if err != nil {
		return err
	}
	for i, row := range rows {
		for j, v := range row {
			tab.set(a.StartRow+i, a.StartCol+j, v)
		}
	}
	return nil
}

// AppendRow writes row below the last non-empty row of the tab
func (f *Fake) AppendRow(ctx context.Context, spreadsheetID, rng string, row []interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AppendRow", spreadsheetID, rng); err != nil {
		return err
	}
	tab, a, err := f.target("gatewaytest.AppendRow", spreadsheetID, rng)
	if err != nil {
		return err
	}
	next := 0
	for r := len(tab.Rows) - 1; r >= 0; r-- {
		if len(trimRow(tab.Rows[r])) > 0 {
			next = r + 1
			break
		}
	}
	if next < a.StartRow {
		next = a.StartRow
	}
	for j, v := range row {
		tab.set(next, a.StartCol+j, v)
	}
	return nil
}

func (f *Fake) target(op, spreadsheetID, rng string) (*Sheet, A1, error) {
	ss, err := f.lookup(op, spreadsheetID)
	if err != nil {
		return nil, A1{}, err
	}
	a, err := ParseA1(rng)
	if err != nil {
		return nil, A1{}, apperrors.Remote(op, err)
	}
	tab := ss.tab(a.Tab)
	if tab == nil {
		return nil, A1{}, apperrors.Remote(op, fmt.Errorf("unable to parse range: %s", rng))
	}
	return tab, a, nil
}

func (t *Sheet) set(r, c int, v interface{}) {
	for len(t.Rows) <= r {
		t.Rows = append(t.Rows, nil)
	}
	for len(t.Rows[r]) <= c {
		t.Rows[r] = append(t.Rows[r], nil)
	}
	t.Rows[r][c] = v
}

// BatchUpdate applies ops all-or-nothing
func (f *Fake) BatchUpdate(ctx context.Context, spreadsheetID string, ops ...gateway.Op) ([]gateway.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BatchUpdate", spreadsheetID, ""); err != nil {
		return nil, err
	}
	ss, err := f.lookup("gatewaytest.BatchUpdate", spreadsheetID)
	if err != nil {
		return nil, err
	}

	tabs := append([]*Sheet(nil), ss.Tabs...)
	nextID := ss.nextID
	type styled struct {
		sheet  *Sheet
		header *gateway.FormatHeader
		band   *gateway.BandRows
	}
	var styles []styled
	var added []gateway.Tab

	find := func(id int64) *Sheet {
		for _, t := range tabs {
			if t.ID == id {
				return t
			}
		}
		return nil
	}

	for _, op := range ops {
		switch o := op.(type) {
		case gateway.AddTab:
			for _, t := range tabs {
				if t.Title == o.Title {
					return nil, apperrors.Remote("gatewaytest.BatchUpdate",
						fmt.Errorf("a sheet with the name %q already exists", o.Title))
				}
			}
			t := &Sheet{ID: nextID, Title: o.Title}
			nextID++
			tabs = append(tabs, t)
			added = append(added, gateway.Tab{ID: t.ID, Title: t.Title})
		case gateway.DeleteTab:
			idx := -1
			for i, t := range tabs {
				if t.ID == o.TabID {
					idx = i
				}
			}
			if idx < 0 {
				return nil, apperrors.Remote("gatewaytest.BatchUpdate", fmt.Errorf("no sheet with id %d", o.TabID))
			}
			tabs = append(tabs[:idx:idx], tabs[idx+1:]...)
		case gateway.FormatHeader:
			t := find(o.TabID)
			if t == nil {
				return nil, apperrors.Remote("gatewaytest.BatchUpdate", fmt.Errorf("no sheet with id %d", o.TabID))
			}
			h := o
			styles = append(styles, styled{sheet: t, header: &h})
		case gateway.BandRows:
			t := find(o.TabID)
			if t == nil {
				return nil, apperrors.Remote("gatewaytest.BatchUpdate", fmt.Errorf("no sheet with id %d", o.TabID))
			}
			b := o
			styles = append(styles, styled{sheet: t, band: &b})
		default:
			return nil, apperrors.Remote("gatewaytest.BatchUpdate", fmt.Errorf("unsupported op %T", op))
		}
	}

	ss.Tabs = tabs
	ss.nextID = nextID
	for _, s := range styles {
		if s.header != nil {
			s.sheet.HeaderBold = s.header.Bold
			s.sheet.HeaderShaded = s.header.Shaded
		}
		if s.band != nil {
			s.sheet.BandedRows = s.band.Rows
		}
	}
	return added, nil
}

// ListTabs returns the tabs in display order
func (f *Fake) ListTabs(ctx context.Context, spreadsheetID string) ([]gateway.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListTabs", spreadsheetID, ""); err != nil {
		return nil, err
	}
	ss, err := f.lookup("gatewaytest.ListTabs", spreadsheetID)
	if err != nil {
		return nil, err
	}
	tabs := make([]gateway.Tab, 0, len(ss.Tabs))
	for _, t := range ss.Tabs {
		tabs = append(tabs, gateway.Tab{ID: t.ID, Title: t.Title})
	}
	return tabs, nil
}

// ListFiles lists spreadsheets whose title contains query.NameContains. Forms
// are never listed.
func (f *Fake) ListFiles(ctx context.Context, query gateway.FileQuery) ([]gateway.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListFiles", "", query.NameContains); err != nil {
		return nil, err
	}
	if query.MimeType != "" && query.MimeType != gateway.MimeSpreadsheet {
		return nil, nil
	}
	var files []gateway.File
	for _, id := range f.order {
		ss := f.spreadsheets[id]
		if strings.Contains(ss.Title, query.NameContains) {
			files = append(files, gateway.File{ID: ss.ID, Name: ss.Title})
		}
	}
	return files, nil
}

// ShareFile records the share
func (f *Fake) ShareFile(ctx context.Context, fileID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ShareFile", fileID, ""); err != nil {
		return err
	}
	ss, err := f.lookup("gatewaytest.ShareFile", fileID)
	if err != nil {
		return err
	}
	ss.Shares = append(ss.Shares, email)
	return nil
}

// CreateForm creates an empty form
func (f *Fake) CreateForm(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateForm", "", ""); err != nil {
		return "", err
	}
	f.seq++
	form := &Form{ID: fmt.Sprintf("form-%d", f.seq), Title: title}
	f.forms[form.ID] = form
	return form.ID, nil
}

// AddFormItems appends items to a form
func (f *Fake) AddFormItems(ctx context.Context, formID string, items []gateway.FormItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddFormItems", formID, ""); err != nil {
		return err
	}
	form, ok := f.forms[formID]
	if !ok {
		return apperrors.Remote("gatewaytest.AddFormItems", fmt.Errorf("form %s not found", formID))
	}
	form.Items = append(form.Items, items...)
	return nil
}

// AuthCodeURL implements gateway.Authorizer
func (f *Fake) AuthCodeURL(state string) string {
	return "https://accounts.test/o/oauth2/auth?access_type=offline&prompt=consent&state=" + url.QueryEscape(state)
}

// ExchangeAuthCode answers from Exchanges
func (f *Fake) ExchangeAuthCode(ctx context.Context, code string) (gateway.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ExchangeAuthCode", "", ""); err != nil {
		return gateway.TokenSet{}, err
	}
	ts, ok := f.Exchanges[code]
	if !ok {
		return gateway.TokenSet{}, apperrors.Remote("gatewaytest.ExchangeAuthCode", fmt.Errorf("invalid code %q", code))
	}
	return ts, nil
}

// RefreshToken delegates to Refresh
func (f *Fake) RefreshToken(ctx context.Context, refreshToken string) (gateway.TokenSet, error) {
	f.mu.Lock()
	refresh := f.Refresh
	err := f.record("RefreshToken", "", "")
	f.mu.Unlock()
	if err != nil {
		return gateway.TokenSet{}, &gateway.RefreshError{Reason: gateway.RefreshTransient, Err: err}
	}
	if refresh == nil {
		return gateway.TokenSet{}, &gateway.RefreshError{Reason: gateway.RefreshTransient, Err: fmt.Errorf("refresh not configured")}
	}
	return refresh(refreshToken)
}

// FetchVerifiedEmail answers from Identities
func (f *Fake) FetchVerifiedEmail(ctx context.Context, accessToken string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FetchVerifiedEmail", "", ""); err != nil {
		return "", false, err
	}
	id, ok := f.Identities[accessToken]
	if !ok {
		return "", false, apperrors.Remote("gatewaytest.FetchVerifiedEmail", fmt.Errorf("unknown access token"))
	}
	return id.Email, id.Verified, nil
}

// Delegated records tokens and returns the fake
func (f *Fake) Delegated(ctx context.Context, tokens gateway.TokenSet) (gateway.Documents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Delegated", "", ""); err != nil {
		return nil, err
	}
	f.Delegations = append(f.Delegations, tokens)
	return f, nil
}

// Service returns the fake
func (f *Fake) Service(ctx context.Context) (gateway.Documents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Service", "", ""); err != nil {
		return nil, err
	}
	return f, nil
}

// Titles returns the titles of all spreadsheets, sorted
func (f *Fake) Titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	titles := make([]string, 0, len(f.spreadsheets))
	for _, ss := range f.spreadsheets {
		titles = append(titles, ss.Title)
	}
	sort.Strings(titles)
	return titles
}

func trimRow(row []interface{}) []interface{} {
	for len(row) > 0 {
		v := row[len(row)-1]
		if v != nil && v != "" {
			break
		}
		row = row[:len(row)-1]
	}
	return row
}

// A1 is a parsed A1-notation range. End bounds are inclusive; -1 means open.
type A1 struct {
	Tab      string
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

// ParseA1 parses ranges such as "Tab!B2:D2", "'My Tab'!A1", "Tab!B2:F" and
// "Tab" (the whole tab).
func ParseA1(rng string) (A1, error) {
	a := A1{EndRow: -1, EndCol: -1}

	sheetPart, cells := rng, ""
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		sheetPart, cells = rng[:i], rng[i+1:]
	}
	if strings.HasPrefix(sheetPart, "'") && strings.HasSuffix(sheetPart, "'") && len(sheetPart) >= 2 {
		sheetPart = strings.ReplaceAll(sheetPart[1:len(sheetPart)-1], "''", "'")
	}
	a.Tab = sheetPart
	if cells == "" {
		return a, nil
	}

	start, end, hasEnd := strings.Cut(cells, ":")
	col, row, err := parseCell(start)
	if err != nil {
		return A1{}, err
	}
	a.StartCol = max(col, 0)
	a.StartRow = max(row, 0)
	if !hasEnd {
		a.EndCol, a.EndRow = col, row
		return a, nil
	}
	a.EndCol, a.EndRow, err = parseCell(end)
	if err != nil {
		return A1{}, err
	}
	return a, nil
}

// parseCell returns zero-based column and row, -1 for an omitted part
func parseCell(ref string) (int, int, error) {
	i := 0
	col := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	row := -1
	if i < len(ref) {
		n, err := strconv.Atoi(ref[i:])
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
		}
		row = n - 1
	}
	if i == 0 && row < 0 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	return col - 1, row, nil
}
