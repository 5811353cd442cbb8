package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"sheetledger/internal/gateway"
	"sheetledger/pkg/contracts/operations"
)

// Tab and document names. Discovery depends on them; they must not change.
const (
	SummaryTab = "ApplicationsRevenue"
	RankingTab = "ApplicationsRevenueTop"

	ledgerTitlePrefix = "Revenue Statistics - "
	ledgerTitleSuffix = " - 52"
)

var ledgerTitlePattern = regexp.MustCompile(`^Revenue Statistics - .+ - 52$`)

// Header rows
var (
	RevenueHeader = []interface{}{"Application", "Ads Revenue", "Downloads Revenue", "Purchases Revenue", "Total Revenue"}
	DetailHeader  = []interface{}{"User ID", "Item ID"}
	SummaryHeader = []interface{}{"ID", "Application", "Ads Revenue", "Downloads Revenue", "Purchases Revenue", "Total Revenue"}
)

// LedgerTitle is the title of the ledger spreadsheet owned by email
func LedgerTitle(email string) string {
	return ledgerTitlePrefix + email + ledgerTitleSuffix
}

// IsLedgerTitle reports whether name follows the ledger naming convention
func IsLedgerTitle(name string) bool {
	return ledgerTitlePattern.MatchString(name)
}

// LedgerQuery lists candidate ledger spreadsheets; results still need
// IsLedgerTitle.
func LedgerQuery() gateway.FileQuery {
	return gateway.FileQuery{NameContains: ledgerTitlePrefix, MimeType: gateway.MimeSpreadsheet}
}

func RevenueTab(app string) string           { return app + " Revenue" }
func WatchedAdsTab(app string) string        { return app + " Watched Adds" }
func MicrotransactionsTab(app string) string { return app + " Microtransactions" }
func DownloadsTab(app string) string         { return app + " Downloads" }

// ApplicationTabs returns the four canonical tabs of app, revenue tab first
func ApplicationTabs(app string) []string {
	return []string{RevenueTab(app), WatchedAdsTab(app), MicrotransactionsTab(app), DownloadsTab(app)}
}

// DetailTab returns the detail tab receiving events of type t
func DetailTab(app string, t operations.EventType) (string, error) {
	switch t {
	case operations.EventAdView:
		return WatchedAdsTab(app), nil
	case operations.EventPurchase:
		return MicrotransactionsTab(app), nil
	case operations.EventDownload:
		return DownloadsTab(app), nil
	}
	return "", fmt.Errorf("unknown event type %q", t)
}

// A1 builds a range on tab, quoting the title
func A1(tab, cells string) string {
	quoted := "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}
