package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sheetledger/pkg/contracts/operations"
)

// Revenue is the revenue row of one application. Total is derived and always
// equals Ads + Downloads + Purchases.
type Revenue struct {
	Ads       float64
	Downloads float64
	Purchases float64
	Total     float64
}

// Apply adds amount to the column of event type t and recomputes Total.
// Unknown event types leave the columns unchanged.
func Apply(r Revenue, t operations.EventType, amount float64) Revenue {
	switch t {
	case operations.EventAdView:
		r.Ads += amount
	case operations.EventDownload:
		r.Downloads += amount
	case operations.EventPurchase:
		r.Purchases += amount
	}
	r.Total = r.Ads + r.Downloads + r.Purchases
	return r
}

// Cells returns the row written to B:E of the revenue tab and C:F of the
// summary tab.
func (r Revenue) Cells() []interface{} {
	return []interface{}{r.Ads, r.Downloads, r.Purchases, r.Total}
}

// revenueFromCells reads ads, downloads and purchases from the first three
// cells; blanks count as zero and Total is recomputed.
func revenueFromCells(row []interface{}) (Revenue, error) {
	var vals [3]float64
	for i := 0; i < len(vals) && i < len(row); i++ {
		v, err := CellFloat(row[i])
		if err != nil {
			return Revenue{}, err
		}
		vals[i] = v
	}
	r := Revenue{Ads: vals[0], Downloads: vals[1], Purchases: vals[2]}
	r.Total = r.Ads + r.Downloads + r.Purchases
	return r, nil
}

// CellFloat converts a cell value to a number. Blank cells are zero.
func CellFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("cell %q is not a number", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cell of type %T is not a number", v)
}

// CellString renders a cell value as text
func CellString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
