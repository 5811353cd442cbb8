package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/infrastructure"
	"sheetledger/internal/queue"
	contracts "sheetledger/pkg/contracts/operations"
)

// receiveBackoff is the pause after a failed Receive
const receiveBackoff = time.Second

// Executor runs a decoded envelope
type Executor interface {
	Execute(ctx context.Context, env Envelope) (string, error)
}

// Dispatcher consumes a Source one message at a time
type Dispatcher struct {
	name     string
	executor Executor
	replier  queue.Publisher
	sink     StatusSink
	metrics  *infrastructure.WorkerMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithReplier makes the dispatcher publish a Reply to each envelope's replyTo
// destination. Only the rpc dispatcher is built with it.
func WithReplier(pub queue.Publisher) Option {
	return func(d *Dispatcher) { d.replier = pub }
}

// WithStatusSink publishes every state transition to sink
func WithStatusSink(sink StatusSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

func WithMetrics(m *infrastructure.WorkerMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher; name distinguishes it in logs and status
func NewDispatcher(name string, executor Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:     name,
		executor: executor,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "dispatcher"), slog.String("dispatcher", name))
	return d
}

// Run consumes src until ctx is cancelled or src is closed. Every received
// message is acknowledged after it has been handled, whatever the outcome.
func (d *Dispatcher) Run(ctx context.Context, src queue.Source) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	for {
		msg, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			d.logger.Error("receive failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}

		d.Handle(ctx, msg)

		if err := src.Ack(context.WithoutCancel(ctx), msg); err != nil {
			d.logger.Error("ack failed",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Handle takes one message through decoding, routing, execution and the
// optional reply. It never panics and never returns an error: the outcome is
// logged, counted and reported to the status sink.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) {
	traceID := msg.Attributes[contracts.AttrTraceID]
	if traceID == "" {
		traceID = msg.ID
	}
	ctx = infrastructure.WithTraceID(ctx, traceID)
	logger := d.logger.With(slog.String("message_id", msg.ID))
	start := d.now()

	d.emit(ctx, Status{MessageID: msg.ID, State: StateDecoding})
	env, err := DecodeEnvelope(msg)
	if err != nil {
		logger.WarnContext(ctx, "dropping undecodable message", slog.String("error", err.Error()))
		d.metrics.OperationFinished(ctx, env.Kind.String(), infrastructure.OutcomeDropped, d.now().Sub(start))
		d.finish(ctx, env, StateDropped, "", err)
		return
	}

	logger = logger.With(slog.String("operation", env.RawOperation))
	if env.UserID != 0 {
		logger = logger.With(slog.Int64("user_id", env.UserID))
	}
	d.metrics.OperationReceived(ctx, env.Kind.String())
	d.emit(ctx, d.status(env, StateRouting))

	if env.Kind == KindUnknown {
		logger.WarnContext(ctx, "dropping unknown operation")
		d.metrics.OperationFinished(ctx, env.Kind.String(), infrastructure.OutcomeDropped, d.now().Sub(start))
		d.finish(ctx, env, StateDropped, "", apperrors.Decode("operations.route", fmt.Errorf("unknown operation %q", env.RawOperation)))
		return
	}

	d.emit(ctx, d.status(env, StateExecuting))
	result, err := d.execute(ctx, env)
	elapsed := d.now().Sub(start)
	if err != nil {
		outcome, state := infrastructure.OutcomeFailure, StateFailed
		if apperrors.IsTerminal(err) {
			outcome, state = infrastructure.OutcomeDropped, StateDropped
		}
		logger.ErrorContext(ctx, "operation failed",
			slog.String("error", err.Error()),
			slog.String("kind", string(apperrors.KindOf(err))),
			slog.Duration("duration", elapsed))
		d.metrics.OperationFinished(ctx, env.Kind.String(), outcome, elapsed)
		d.finish(ctx, env, state, "", err)
		return
	}

	logger.InfoContext(ctx, "operation completed",
		slog.String("result", result),
		slog.Duration("duration", elapsed))
	d.metrics.OperationFinished(ctx, env.Kind.String(), infrastructure.OutcomeSuccess, elapsed)
	d.finish(ctx, env, StateCompleted, result, nil)
}

func (d *Dispatcher) execute(ctx context.Context, env Envelope) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.executor.Execute(ctx, env)
}

// finish replies when configured and emits the terminal state
func (d *Dispatcher) finish(ctx context.Context, env Envelope, state State, result string, err error) {
	if d.replier != nil && env.ReplyTo != "" {
		d.emit(ctx, d.status(env, StateReplying))
		d.reply(ctx, env, result, err)
	}
	st := d.status(env, state)
	st.Result = result
	if err != nil {
		st.Error = err.Error()
	}
	d.emit(ctx, st)
}

func (d *Dispatcher) reply(ctx context.Context, env Envelope, result string, err error) {
	r := contracts.Reply{
		CorrelationID: env.CorrelationID,
		Operation:     env.RawOperation,
		OK:            err == nil,
		Result:        result,
		CompletedAt:   d.now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	body, mErr := json.Marshal(r)
	if mErr != nil {
		d.logger.ErrorContext(ctx, "encode reply failed", slog.String("error", mErr.Error()))
		return
	}

	msg := queue.Message{
		Key: env.CorrelationID,
		Attributes: map[string]string{
			contracts.AttrCorrelationID: env.CorrelationID,
			contracts.AttrOperation:     env.RawOperation,
		},
		Body: body,
	}
	if pErr := d.replier.Publish(context.WithoutCancel(ctx), env.ReplyTo, msg); pErr != nil {
		d.logger.ErrorContext(ctx, "publish reply failed",
			slog.String("reply_to", env.ReplyTo),
			slog.String("error", pErr.Error()))
	}
}

func (d *Dispatcher) status(env Envelope, state State) Status {
	return Status{
		MessageID: env.ID,
		Operation: env.RawOperation,
		UserID:    env.UserID,
		State:     state,
	}
}

func (d *Dispatcher) emit(ctx context.Context, st Status) {
	if d.sink == nil {
		return
	}
	st.Dispatcher = d.name
	st.At = d.now().UTC()
	d.sink.OperationStatus(ctx, st)
}
