package operations

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetledger/internal/credentials"
	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/gateway/gatewaytest"
	"sheetledger/internal/infrastructure"
	"sheetledger/internal/ledger"
	"sheetledger/internal/queue"
	"sheetledger/internal/ranking"
	"sheetledger/internal/shared/testutil"
	contracts "sheetledger/pkg/contracts/operations"
)

const (
	ownerID    = 7
	ownerEmail = "dev@example.com"
	appID      = 11
	appName    = "Space Run"
)

type fixture struct {
	fake     *gatewaytest.Fake
	handlers *Handlers
	statuses *statusRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	fake := gatewaytest.New()
	store := credentials.NewMemoryCredentialStore()
	require.NoError(t, store.Upsert(ctx, credentials.Credential{
		UserID:       ownerID,
		Email:        ownerEmail,
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}))
	mgr := credentials.NewManager(fake, store, credentials.NewMemoryStateStore())
	dir := ledger.NewStaticDirectory(ledger.Application{ID: appID, Name: appName})

	return &fixture{
		fake:     fake,
		handlers: NewHandlers(mgr, fake, ledger.NewEngine(dir), ranking.NewEngine(fake), nil),
		statuses: &statusRecorder{},
	}
}

func (f *fixture) dispatcher(opts ...Option) *Dispatcher {
	opts = append([]Option{WithStatusSink(f.statuses)}, opts...)
	return NewDispatcher("test", f.handlers, opts...)
}

type statusRecorder struct {
	mu   sync.Mutex
	list []Status
}

func (r *statusRecorder) OperationStatus(ctx context.Context, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, st)
}

func (r *statusRecorder) states(messageID string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, st := range r.list {
		if st.MessageID == messageID {
			out = append(out, st.State)
		}
	}
	return out
}

func (r *statusRecorder) last(messageID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.list) - 1; i >= 0; i-- {
		if r.list[i].MessageID == messageID {
			return r.list[i]
		}
	}
	return Status{}
}

func message(t *testing.T, id string, attrs map[string]string, payload interface{}) queue.Message {
	t.Helper()
	msg := queue.Message{ID: id, Attributes: attrs}
	if payload != nil {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Body = body
	}
	return msg
}

func userAttrs(op string, userID int64) map[string]string {
	return map[string]string{
		contracts.AttrOperation: op,
		contracts.AttrUserID:    strconv.FormatInt(userID, 10),
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindCreateForm, KindCreateSheetWithData, KindAddAppSheets, KindUpdateMonetization, KindUpdateAppsTop} {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindUnknown, ParseKind("deleteEverything"))
	assert.Equal(t, KindUnknown, ParseKind("CreateForm"))
	assert.False(t, KindUpdateAppsTop.NeedsUser())
	assert.True(t, KindUpdateMonetization.NeedsUser())
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		attrs   map[string]string
		wantErr bool
		check   func(t *testing.T, env Envelope)
	}{
		{
			name:    "missing operation",
			attrs:   map[string]string{contracts.AttrUserID: "7"},
			wantErr: true,
		},
		{
			name:  "unknown operation keeps raw name",
			attrs: map[string]string{contracts.AttrOperation: "deleteEverything"},
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, KindUnknown, env.Kind)
				assert.Equal(t, "deleteEverything", env.RawOperation)
			},
		},
		{
			name:    "user operation without user id",
			attrs:   map[string]string{contracts.AttrOperation: contracts.OpCreateForm},
			wantErr: true,
		},
		{
			name:    "non numeric user id",
			attrs:   map[string]string{contracts.AttrOperation: contracts.OpCreateForm, contracts.AttrUserID: "seven"},
			wantErr: true,
		},
		{
			name:    "add app sheets without app name",
			attrs:   userAttrs(contracts.OpAddAppSheets, 7),
			wantErr: true,
		},
		{
			name: "monetization with invalid event type",
			attrs: map[string]string{
				contracts.AttrOperation: contracts.OpUpdateMonetization,
				contracts.AttrUserID:    "7",
				contracts.AttrEventType: "REFUND",
			},
			wantErr: true,
		},
		{
			name:    "monetization without event type",
			attrs:   userAttrs(contracts.OpUpdateMonetization, 7),
			wantErr: true,
		},
		{
			name:  "apps top needs no routing attributes",
			attrs: map[string]string{contracts.AttrOperation: contracts.OpUpdateAppsTop},
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, KindUpdateAppsTop, env.Kind)
				assert.Zero(t, env.UserID)
				assert.Equal(t, "m1", env.CorrelationID)
			},
		},
		{
			name: "full monetization envelope",
			attrs: map[string]string{
				contracts.AttrOperation:     contracts.OpUpdateMonetization,
				contracts.AttrUserID:        "7",
				contracts.AttrAppName:       " Space Run ",
				contracts.AttrEventType:     "PURCHASE",
				contracts.AttrReplyTo:       "rpc.replies",
				contracts.AttrCorrelationID: "c-1",
			},
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, KindUpdateMonetization, env.Kind)
				assert.Equal(t, int64(7), env.UserID)
				assert.Equal(t, "Space Run", env.AppName)
				assert.Equal(t, contracts.EventPurchase, env.EventType)
				assert.Equal(t, "rpc.replies", env.ReplyTo)
				assert.Equal(t, "c-1", env.CorrelationID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope(queue.Message{ID: "m1", Attributes: tt.attrs, Body: []byte("not json")})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrDecode)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, env)
			}
		})
	}
}

func TestFormItems(t *testing.T) {
	items := FormItems(map[string]string{
		"Name":     "text",
		"About":    "paragraph",
		"Feedback": "TextArea",
		"Email":    "email",
	})
	require.Len(t, items, 4)
	assert.Equal(t, "About", items[0].Title)
	assert.True(t, items[0].Paragraph)
	assert.Equal(t, "Email", items[1].Title)
	assert.False(t, items[1].Paragraph)
	assert.Equal(t, "Feedback", items[2].Title)
	assert.True(t, items[2].Paragraph)
	assert.Equal(t, "Name", items[3].Title)
	assert.False(t, items[3].Paragraph)
}

func TestCreateForm(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	d.Handle(context.Background(), message(t, "m1", userAttrs(contracts.OpCreateForm, ownerID), contracts.FormSpec{
		GoogleEmail: ownerEmail,
		FormTitle:   "Beta signup",
		Fields:      map[string]string{"Name": "text", "Why": "paragraph"},
	}))

	st := f.statuses.last("m1")
	require.Equal(t, StateCompleted, st.State, st.Error)
	assert.Equal(t, []State{StateDecoding, StateRouting, StateExecuting, StateCompleted}, f.statuses.states("m1"))

	form, ok := f.fake.Form(st.Result)
	require.True(t, ok)
	assert.Equal(t, "Beta signup", form.Title)
	require.Len(t, form.Items, 2)
	assert.Equal(t, "Why", form.Items[1].Title)
	assert.True(t, form.Items[1].Paragraph)

	require.Len(t, f.fake.Delegations, 1)
	assert.Equal(t, "access", f.fake.Delegations[0].AccessToken)
}

func TestCreateSheetWithData(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	d.Handle(context.Background(), message(t, "m1", userAttrs(contracts.OpCreateSheetWithData, ownerID), contracts.SheetWithData{
		GoogleEmail: "DEV@example.com",
		SheetTitle:  "Players",
		Headers:     []string{"Name", "Score"},
		Data:        [][]interface{}{{"ann", 10}, {"bob", 7}},
	}))

	st := f.statuses.last("m1")
	require.Equal(t, StateCompleted, st.State, st.Error)

	tab, ok := f.fake.Tab(st.Result, "Sheet1")
	require.True(t, ok)
	require.Len(t, tab.Rows, 3)
	assert.Equal(t, []interface{}{"Name", "Score"}, tab.Rows[0])
	assert.Equal(t, []interface{}{"bob", float64(7)}, tab.Rows[2])
}

func TestLedgerOperations(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	ctx := context.Background()

	attrs := userAttrs(contracts.OpAddAppSheets, ownerID)
	attrs[contracts.AttrAppName] = appName
	d.Handle(ctx, message(t, "provision", attrs, contracts.SheetIdentifier{
		GoogleEmail:      ownerEmail,
		SpreadsheetTitle: ledger.LedgerTitle(ownerEmail),
	}))
	st := f.statuses.last("provision")
	require.Equal(t, StateCompleted, st.State, st.Error)
	spreadsheetID := st.Result

	for _, title := range ledger.ApplicationTabs(appName) {
		_, ok := f.fake.Tab(spreadsheetID, title)
		assert.True(t, ok, title)
	}

	events := []contracts.MonetizationEvent{
		{EventType: contracts.EventAdView, UserID: 501, ApplicationID: appID, ItemID: "ad-1", Amount: 0.5},
		{EventType: contracts.EventPurchase, UserID: 502, ApplicationID: appID, ItemID: "gem-pack", Amount: 4.99},
	}
	for i, ev := range events {
		attrs := userAttrs(contracts.OpUpdateMonetization, ownerID)
		attrs[contracts.AttrEventType] = string(ev.EventType)
		id := "event-" + strconv.Itoa(i)
		d.Handle(ctx, message(t, id, attrs, ev))
		st := f.statuses.last(id)
		require.Equal(t, StateCompleted, st.State, st.Error)
		assert.Equal(t, ResultOK, st.Result)
	}

	summary, ok := f.fake.Tab(spreadsheetID, ledger.SummaryTab)
	require.True(t, ok)
	require.Len(t, summary.Rows, 2)
	total, err := ledger.CellFloat(summary.Rows[1][5])
	require.NoError(t, err)
	assert.InDelta(t, 5.49, total, 1e-9)

	adds, ok := f.fake.Tab(spreadsheetID, ledger.WatchedAdsTab(appName))
	require.True(t, ok)
	assert.Len(t, adds.Rows, 2)
}

func TestHandlerFailures(t *testing.T) {
	tests := []struct {
		name      string
		msg       func(t *testing.T) queue.Message
		wantState State
		wantKind  apperrors.Kind
	}{
		{
			name: "payload addressed to another account",
			msg: func(t *testing.T) queue.Message {
				return message(t, "m1", userAttrs(contracts.OpCreateForm, ownerID), contracts.FormSpec{
					GoogleEmail: "someone@example.com",
					FormTitle:   "x",
					Fields:      map[string]string{"a": "text"},
				})
			},
			wantState: StateDropped,
			wantKind:  apperrors.KindValidation,
		},
		{
			name: "user without credential",
			msg: func(t *testing.T) queue.Message {
				return message(t, "m1", userAttrs(contracts.OpCreateForm, 8), contracts.FormSpec{
					GoogleEmail: ownerEmail,
					FormTitle:   "x",
					Fields:      map[string]string{"a": "text"},
				})
			},
			wantState: StateFailed,
			wantKind:  apperrors.KindNotConnected,
		},
		{
			name: "malformed body",
			msg: func(t *testing.T) queue.Message {
				msg := message(t, "m1", userAttrs(contracts.OpCreateSheetWithData, ownerID), nil)
				msg.Body = []byte("{")
				return msg
			},
			wantState: StateDropped,
			wantKind:  apperrors.KindDecode,
		},
		{
			name: "payload fails validation",
			msg: func(t *testing.T) queue.Message {
				return message(t, "m1", userAttrs(contracts.OpCreateSheetWithData, ownerID), contracts.SheetWithData{
					GoogleEmail: "not-an-email",
					SheetTitle:  "x",
					Headers:     []string{"a"},
				})
			},
			wantState: StateDropped,
			wantKind:  apperrors.KindValidation,
		},
		{
			name: "event type attribute disagrees with payload",
			msg: func(t *testing.T) queue.Message {
				attrs := userAttrs(contracts.OpUpdateMonetization, ownerID)
				attrs[contracts.AttrEventType] = string(contracts.EventDownload)
				return message(t, "m1", attrs, contracts.MonetizationEvent{
					EventType: contracts.EventPurchase, UserID: 1, ApplicationID: appID, Amount: 1,
				})
			},
			wantState: StateDropped,
			wantKind:  apperrors.KindDecode,
		},
		{
			name: "monetization without a ledger",
			msg: func(t *testing.T) queue.Message {
				attrs := userAttrs(contracts.OpUpdateMonetization, ownerID)
				attrs[contracts.AttrEventType] = string(contracts.EventPurchase)
				return message(t, "m1", attrs, contracts.MonetizationEvent{
					EventType: contracts.EventPurchase, UserID: 1, ApplicationID: appID, Amount: 1,
				})
			},
			wantState: StateFailed,
			wantKind:  apperrors.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			msg := tt.msg(t)
			env, err := DecodeEnvelope(msg)
			require.NoError(t, err)

			_, err = f.handlers.Execute(context.Background(), env)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperrors.KindOf(err))

			f.dispatcher().Handle(context.Background(), msg)
			assert.Equal(t, tt.wantState, f.statuses.last("m1").State)
			assert.Empty(t, f.fake.Titles())
		})
	}
}

func TestUpdateAppsTopNeedsNoCredential(t *testing.T) {
	f := newFixture(t)
	id := f.fake.AddSpreadsheet(ledger.LedgerTitle("other@example.com"), ledger.SummaryTab)
	require.NoError(t, f.fake.WriteRange(context.Background(), id, ledger.A1(ledger.SummaryTab, "A1"), [][]interface{}{
		{"ID", "Application", "Ads Revenue", "Downloads Revenue", "Purchases Revenue", "Total Revenue"},
		{11, "Space Run", 1, 2, 3, 6},
	}))

	f.dispatcher().Handle(context.Background(), message(t, "m1", map[string]string{contracts.AttrOperation: contracts.OpUpdateAppsTop}, nil))

	st := f.statuses.last("m1")
	require.Equal(t, StateCompleted, st.State, st.Error)
	top, ok := f.fake.Tab(id, ledger.RankingTab)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(top.Rows), 2)
	assert.Equal(t, "Space Run", top.Rows[1][1])
	assert.Empty(t, f.fake.Calls("Delegated"))
}

type stubExecutor struct {
	mu     sync.Mutex
	calls  int
	result string
	err    error
	panic  bool
}

func (s *stubExecutor) Execute(ctx context.Context, env Envelope) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panic {
		panic("boom")
	}
	return s.result, s.err
}

func (s *stubExecutor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDispatcherRouting(t *testing.T) {
	tests := []struct {
		name      string
		attrs     map[string]string
		exec      *stubExecutor
		wantState State
		wantCalls int
	}{
		{
			name:      "unknown operation is dropped without execution",
			attrs:     map[string]string{contracts.AttrOperation: "renameEverything"},
			exec:      &stubExecutor{},
			wantState: StateDropped,
		},
		{
			name:      "undecodable attributes are dropped",
			attrs:     map[string]string{},
			exec:      &stubExecutor{},
			wantState: StateDropped,
		},
		{
			name:      "handler error fails the message",
			attrs:     map[string]string{contracts.AttrOperation: contracts.OpUpdateAppsTop},
			exec:      &stubExecutor{err: apperrors.Remote("test", errors.New("quota exceeded"))},
			wantState: StateFailed,
			wantCalls: 1,
		},
		{
			name:      "handler panic is contained",
			attrs:     map[string]string{contracts.AttrOperation: contracts.OpUpdateAppsTop},
			exec:      &stubExecutor{panic: true},
			wantState: StateFailed,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statuses := &statusRecorder{}
			d := NewDispatcher("test", tt.exec, WithStatusSink(statuses))

			assert.NotPanics(t, func() {
				d.Handle(context.Background(), queue.Message{ID: "m1", Attributes: tt.attrs})
			})
			assert.Equal(t, tt.wantState, statuses.last("m1").State)
			assert.Equal(t, tt.wantCalls, tt.exec.count())
		})
	}
}

func TestDispatcherLogsDrops(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	d := NewDispatcher("operations", &stubExecutor{}, WithLogger(logger))

	d.Handle(context.Background(), queue.Message{
		ID:         "m1",
		Attributes: map[string]string{contracts.AttrOperation: "renameEverything", contracts.AttrTraceID: "trace-9"},
	})

	testutil.AssertLogContains(t, logs, slog.LevelWarn, "dropping unknown operation")
	testutil.AssertLogAttr(t, logs, "operation", "renameEverything")
	testutil.AssertLogAttr(t, logs, "dispatcher", "operations")
	testutil.AssertNoErrors(t, logs)
}

func TestDispatcherReplies(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemory(8)
	attrs := map[string]string{
		contracts.AttrOperation:     contracts.OpUpdateAppsTop,
		contracts.AttrReplyTo:       "rpc.replies",
		contracts.AttrCorrelationID: "corr-1",
	}

	t.Run("rpc dispatcher publishes the result", func(t *testing.T) {
		statuses := &statusRecorder{}
		d := NewDispatcher("rpc", &stubExecutor{result: "ok"}, WithReplier(broker), WithStatusSink(statuses))
		d.Handle(ctx, queue.Message{ID: "m1", Attributes: attrs})

		msg, err := broker.Source("rpc.replies").Receive(ctx)
		require.NoError(t, err)
		var reply contracts.Reply
		require.NoError(t, json.Unmarshal(msg.Body, &reply))
		assert.True(t, reply.OK)
		assert.Equal(t, "corr-1", reply.CorrelationID)
		assert.Equal(t, contracts.OpUpdateAppsTop, reply.Operation)
		assert.Equal(t, "ok", reply.Result)
		assert.Contains(t, statuses.states("m1"), StateReplying)
	})

	t.Run("failures are replied too", func(t *testing.T) {
		d := NewDispatcher("rpc", &stubExecutor{err: errors.New("sheet locked")}, WithReplier(broker))
		d.Handle(ctx, queue.Message{ID: "m2", Attributes: attrs})

		msg, err := broker.Source("rpc.replies").Receive(ctx)
		require.NoError(t, err)
		var reply contracts.Reply
		require.NoError(t, json.Unmarshal(msg.Body, &reply))
		assert.False(t, reply.OK)
		assert.Equal(t, "sheet locked", reply.Error)
	})

	t.Run("main dispatcher never replies", func(t *testing.T) {
		d := NewDispatcher("operations", &stubExecutor{result: "ok"})
		d.Handle(ctx, queue.Message{ID: "m3", Attributes: attrs})
		assert.Zero(t, broker.Pending("rpc.replies"))
	})
}

func TestRunAcknowledgesEveryMessage(t *testing.T) {
	broker := queue.NewMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &stubExecutor{result: "ok"}
	d := NewDispatcher("operations", exec)

	messages := []queue.Message{
		{ID: "bad", Attributes: map[string]string{}},
		{ID: "unknown", Attributes: map[string]string{contracts.AttrOperation: "nope"}},
		{ID: "good", Attributes: map[string]string{contracts.AttrOperation: contracts.OpUpdateAppsTop}},
	}
	for _, m := range messages {
		require.NoError(t, broker.Publish(ctx, "ops", m))
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, broker.Source("ops")) }()

	require.Eventually(t, func() bool { return len(broker.Acked()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bad", "unknown", "good"}, broker.Acked())
	assert.Equal(t, 1, exec.count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestEnqueuer(t *testing.T) {
	broker := queue.NewMemory(4)
	enq := NewEnqueuer(broker, "ops")
	ctx := infrastructure.WithTraceID(context.Background(), "trace-1")

	id, err := enq.Enqueue(ctx, Request{
		Kind:      KindUpdateMonetization,
		UserID:    ownerID,
		EventType: contracts.EventDownload,
		Payload:   contracts.MonetizationEvent{EventType: contracts.EventDownload, UserID: 1, ApplicationID: appID, Amount: 2},
		ReplyTo:   "rpc.replies",
	})
	require.NoError(t, err)

	msg, err := broker.Source("ops").Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "7", msg.Key)
	assert.Equal(t, "trace-1", msg.Attributes[contracts.AttrTraceID])

	env, err := DecodeEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, KindUpdateMonetization, env.Kind)
	assert.Equal(t, int64(ownerID), env.UserID)
	assert.Equal(t, contracts.EventDownload, env.EventType)
	assert.Equal(t, id, env.CorrelationID)

	_, err = enq.Enqueue(ctx, Request{Kind: KindCreateForm})
	assert.Error(t, err)
	_, err = enq.Enqueue(ctx, Request{Kind: KindUnknown})
	assert.Error(t, err)
}
