package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contracts "sheetledger/pkg/contracts/operations"
)

func TestStruct(t *testing.T) {
	tests := []struct {
		name     string
		in       interface{}
		wantMsgs []string
	}{
		{
			name: "valid form",
			in: &contracts.FormSpec{
				GoogleEmail: "dev@example.com",
				FormTitle:   "Signup",
				Fields:      map[string]string{"Name": "text"},
			},
		},
		{
			name:     "missing fields use json names",
			in:       &contracts.FormSpec{GoogleEmail: "dev@example.com"},
			wantMsgs: []string{"fields is required", "formTitle is required"},
		},
		{
			name: "bad email",
			in: &contracts.SheetIdentifier{
				GoogleEmail:      "nope",
				SpreadsheetTitle: "x",
			},
			wantMsgs: []string{"googleEmail must be a valid email address"},
		},
		{
			name: "event type and amount",
			in: &contracts.MonetizationEvent{
				EventType:     "REFUND",
				UserID:        1,
				ApplicationID: 1,
				Amount:        -1,
			},
			wantMsgs: []string{
				"eventType must be one of: AD_VIEW, PURCHASE, DOWNLOAD",
				"amount must be greater than or equal to 0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.wantMsgs == nil {
				assert.NoError(t, err)
				return
			}
			var verrs Errors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fe.Message
			}
			assert.Equal(t, tt.wantMsgs, msgs)
		})
	}
}
