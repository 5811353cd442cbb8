// Package gateway is the boundary to the remote document service: spreadsheets,
// forms, file listing and sharing, and the OAuth endpoints used to obtain
// delegated access. Everything above this package talks to these interfaces.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MimeSpreadsheet is the file type of spreadsheets in file listings
const MimeSpreadsheet = "application/vnd.google-apps.spreadsheet"

// Tab is one sheet inside a spreadsheet
type Tab struct {
	ID    int64
	Title string
}

// File is an entry of a file listing
type File struct {
	ID   string
	Name string
}

// FileQuery filters a file listing. Trashed files are never returned.
type FileQuery struct {
	NameContains string
	MimeType     string
}

// FormItem is a question appended to a form
type FormItem struct {
	Title     string
	Paragraph bool
}

// Op is one structural change applied by Documents.BatchUpdate
type Op interface {
	isOp()
}

// AddTab creates a tab with the given title
type AddTab struct {
	Title string
}

// DeleteTab removes a tab
type DeleteTab struct {
	TabID int64
}

// FormatHeader styles the first row of a tab
type FormatHeader struct {
	TabID  int64
	Bold   bool
	Shaded bool
}

// BandRows shades every other row below the header, for Rows rows, with a
// modulo-2 conditional rule.
type BandRows struct {
	TabID int64
	Rows  int64
}

func (AddTab) isOp()       {}
func (DeleteTab) isOp()    {}
func (FormatHeader) isOp() {}
func (BandRows) isOp()     {}

// Documents is the document capability set. Ranges use A1 notation.
type Documents interface {
	CreateSpreadsheet(ctx context.Context, title string) (string, error)
	ReadRange(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	WriteRange(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
	AppendRow(ctx context.Context, spreadsheetID, rng string, row []interface{}) error
	// BatchUpdate applies ops atomically and returns the tabs it added, in order
	BatchUpdate(ctx context.Context, spreadsheetID string, ops ...Op) ([]Tab, error)
	ListTabs(ctx context.Context, spreadsheetID string) ([]Tab, error)
	ListFiles(ctx context.Context, query FileQuery) ([]File, error)
	ShareFile(ctx context.Context, fileID, email string) error
	CreateForm(ctx context.Context, title string) (string, error)
	AddFormItems(ctx context.Context, formID string, items []FormItem) error
}

// TokenSet is the result of a code exchange or a refresh
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// Authorizer drives the OAuth authorization-code flow
type Authorizer interface {
	// AuthCodeURL returns the consent URL carrying state, requesting offline
	// access and forcing the consent prompt.
	AuthCodeURL(state string) string
	ExchangeAuthCode(ctx context.Context, code string) (TokenSet, error)
	// RefreshToken returns a *RefreshError when the refresh fails
	RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error)
	FetchVerifiedEmail(ctx context.Context, accessToken string) (email string, verified bool, err error)
}

// Connector hands out Documents bound to an identity
type Connector interface {
	// Delegated acts on behalf of the user owning tokens
	Delegated(ctx context.Context, tokens TokenSet) (Documents, error)
	// Service acts as the worker's own service account
	Service(ctx context.Context) (Documents, error)
}

// RefreshReason tells whether a failed refresh should be retried
type RefreshReason int

const (
	// RefreshTransient covers network failures and 5xx answers
	RefreshTransient RefreshReason = iota
	// RefreshRejected means the grant is revoked or invalid
	RefreshRejected
)

func (r RefreshReason) String() string {
	if r == RefreshRejected {
		return "rejected"
	}
	return "transient"
}

// RefreshError is returned by Authorizer.RefreshToken
type RefreshError struct {
	Reason RefreshReason
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh %s: %v", e.Reason, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsRefreshRejected reports whether err carries a rejected refresh
func IsRefreshRejected(err error) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Reason == RefreshRejected
}
