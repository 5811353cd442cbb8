// Package operations contains the wire contract between the web tier and the
// ledger worker: message attribute names, operation names and payload shapes.
package operations

import "time"

// Message attribute names. Routing attributes travel next to the body and
// must be readable without parsing it.
const (
	AttrOperation     = "operation"
	AttrUserID        = "userId"
	AttrAppName       = "appName"
	AttrEventType     = "eventType"
	AttrReplyTo       = "replyTo"
	AttrCorrelationID = "correlationId"
	AttrTraceID       = "traceId"
)

// Operation names accepted on the operation queue
const (
	OpCreateForm          = "createForm"
	OpCreateSheetWithData = "createSheetWithData"
	OpAddAppSheets        = "addAppSheets"
	OpUpdateMonetization  = "updateMonetization"
	OpUpdateAppsTop       = "updateAppsTop"
)

// EventType identifies the monetization source of a revenue event
type EventType string

const (
	EventAdView   EventType = "AD_VIEW"
	EventPurchase EventType = "PURCHASE"
	EventDownload EventType = "DOWNLOAD"
)

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventAdView, EventPurchase, EventDownload:
		return true
	}
	return false
}

// FormSpec is the body of a createForm operation. Fields maps a question
// title to its kind ("text", "paragraph", "email", ...).
type FormSpec struct {
	GoogleEmail string            `json:"googleEmail" validate:"required,email"`
	Fields      map[string]string `json:"fields" validate:"required,min=1,dive,keys,required,endkeys,required"`
	FormTitle   string            `json:"formTitle" validate:"required,max=300"`
}

// SheetWithData is the body of a createSheetWithData operation
type SheetWithData struct {
	GoogleEmail string          `json:"googleEmail" validate:"required,email"`
	SheetTitle  string          `json:"sheetTitle" validate:"required,max=300"`
	Headers     []string        `json:"headers" validate:"required,min=1,dive,required"`
	Data        [][]interface{} `json:"data"`
}

// SheetIdentifier is the body of an addAppSheets operation
type SheetIdentifier struct {
	GoogleEmail      string `json:"googleEmail" validate:"required,email"`
	SpreadsheetTitle string `json:"spreadsheetTitle" validate:"required"`
}

// MonetizationEvent is the body of an updateMonetization operation.
// UserID is the end user that produced the event, not the ledger owner.
type MonetizationEvent struct {
	EventType     EventType `json:"eventType" validate:"required,oneof=AD_VIEW PURCHASE DOWNLOAD"`
	UserID        int64     `json:"userId" validate:"required"`
	ApplicationID int64     `json:"applicationId" validate:"required"`
	ItemID        string    `json:"itemId"`
	Amount        float64   `json:"amount" validate:"gte=0"`
}

// Reply is published to the replyTo destination of an rpc request
type Reply struct {
	CorrelationID string    `json:"correlationId"`
	Operation     string    `json:"operation"`
	OK            bool      `json:"ok"`
	Result        string    `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	CompletedAt   time.Time `json:"completedAt"`
}
