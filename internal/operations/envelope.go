package operations

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/queue"
	"sheetledger/internal/validation"
	contracts "sheetledger/pkg/contracts/operations"
)

// Envelope is a decoded operation message
type Envelope struct {
	ID            string
	Kind          Kind
	RawOperation  string
	UserID        int64
	AppName       string
	EventType     contracts.EventType
	Payload       []byte
	ReplyTo       string
	CorrelationID string
	TraceID       string
}

// DecodeEnvelope reads the routing attributes of msg. The body is not parsed.
// An unrecognised operation name is not an error: the envelope comes back as
// KindUnknown.
func DecodeEnvelope(msg queue.Message) (Envelope, error) {
	const op = "operations.decode_envelope"

	env := Envelope{
		ID:            msg.ID,
		Payload:       msg.Body,
		ReplyTo:       msg.Attributes[contracts.AttrReplyTo],
		CorrelationID: msg.Attributes[contracts.AttrCorrelationID],
		TraceID:       msg.Attributes[contracts.AttrTraceID],
	}
	if env.CorrelationID == "" {
		env.CorrelationID = msg.ID
	}

	name, ok := msg.Attr(contracts.AttrOperation)
	if !ok || strings.TrimSpace(name) == "" {
		return env, apperrors.Decode(op, fmt.Errorf("missing %q attribute", contracts.AttrOperation))
	}
	env.RawOperation = name
	env.Kind = ParseKind(name)
	if env.Kind == KindUnknown {
		return env, nil
	}

	if raw, ok := msg.Attr(contracts.AttrUserID); ok && raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return env, apperrors.Decode(op, fmt.Errorf("invalid %q attribute %q", contracts.AttrUserID, raw))
		}
		env.UserID = id
	}
	if env.Kind.NeedsUser() && env.UserID == 0 {
		return env, apperrors.Decode(op, fmt.Errorf("%s requires %q attribute", name, contracts.AttrUserID))
	}

	env.AppName = strings.TrimSpace(msg.Attributes[contracts.AttrAppName])
	if env.Kind == KindAddAppSheets && env.AppName == "" {
		return env, apperrors.Decode(op, fmt.Errorf("%s requires %q attribute", name, contracts.AttrAppName))
	}

	if raw := msg.Attributes[contracts.AttrEventType]; raw != "" {
		env.EventType = contracts.EventType(raw)
		if !env.EventType.Valid() {
			return env, apperrors.Decode(op, fmt.Errorf("invalid %q attribute %q", contracts.AttrEventType, raw))
		}
	}
	if env.Kind == KindUpdateMonetization && env.EventType == "" {
		return env, apperrors.Decode(op, fmt.Errorf("%s requires %q attribute", name, contracts.AttrEventType))
	}

	return env, nil
}

// decodePayload parses the envelope body into dst and validates it by struct tag
func decodePayload(env Envelope, dst interface{}) error {
	op := "operations.decode_payload." + env.Kind.String()
	if len(env.Payload) == 0 {
		return apperrors.Decode(op, fmt.Errorf("empty payload"))
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return apperrors.Decode(op, err)
	}
	if err := validation.Struct(dst); err != nil {
		return apperrors.Validation(op, err)
	}
	return nil
}
