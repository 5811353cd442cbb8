package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"sheetledger/internal/infrastructure"
	"sheetledger/internal/queue"
	contracts "sheetledger/pkg/contracts/operations"
)

// Request describes an operation to enqueue. Payload is marshalled to JSON;
// nil yields an empty body.
type Request struct {
	Kind          Kind
	UserID        int64
	AppName       string
	EventType     contracts.EventType
	Payload       interface{}
	ReplyTo       string
	CorrelationID string
}

// Enqueuer publishes envelopes to the operation topic
type Enqueuer struct {
	pub   queue.Publisher
	topic string
}

func NewEnqueuer(pub queue.Publisher, topic string) *Enqueuer {
	return &Enqueuer{pub: pub, topic: topic}
}

// Enqueue publishes req and returns the message id
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.Kind == KindUnknown {
		return "", fmt.Errorf("enqueue: unknown operation kind")
	}
	if req.Kind.NeedsUser() && req.UserID <= 0 {
		return "", fmt.Errorf("enqueue %s: user id required", req.Kind)
	}

	var body []byte
	if req.Payload != nil {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			return "", fmt.Errorf("enqueue %s: encode payload: %w", req.Kind, err)
		}
		body = b
	}

	msg := queue.Message{
		ID:         uuid.NewString(),
		Attributes: map[string]string{contracts.AttrOperation: req.Kind.String()},
		Body:       body,
	}
	if req.UserID > 0 {
		msg.Key = strconv.FormatInt(req.UserID, 10)
		msg.Attributes[contracts.AttrUserID] = msg.Key
	}
	if req.AppName != "" {
		msg.Attributes[contracts.AttrAppName] = req.AppName
	}
	if req.EventType != "" {
		msg.Attributes[contracts.AttrEventType] = string(req.EventType)
	}
	if req.ReplyTo != "" {
		msg.Attributes[contracts.AttrReplyTo] = req.ReplyTo
		correlationID := req.CorrelationID
		if correlationID == "" {
			correlationID = msg.ID
		}
		msg.Attributes[contracts.AttrCorrelationID] = correlationID
	}
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		msg.Attributes[contracts.AttrTraceID] = traceID
	}

	if err := e.pub.Publish(ctx, e.topic, msg); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", req.Kind, err)
	}
	return msg.ID, nil
}
