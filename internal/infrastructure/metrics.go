package infrastructure

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels shared by the worker instruments
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

// WorkerMetrics holds the instruments recorded by the worker. A nil
// *WorkerMetrics is valid and records nothing.
type WorkerMetrics struct {
	OperationsReceived metric.Int64Counter
	OperationsHandled  metric.Int64Counter
	OperationDuration  metric.Float64Histogram
	RankingRefreshes   metric.Int64Counter
	RankingDuration    metric.Float64Histogram
	GatewayCalls       metric.Int64Counter
	CredentialRefresh  metric.Int64Counter
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
}

// NewWorkerMetrics creates the worker instruments on meter
func NewWorkerMetrics(meter metric.Meter) (*WorkerMetrics, error) {
	m := &WorkerMetrics{}
	var err error

	if m.OperationsReceived, err = meter.Int64Counter(
		"ledger_operations_received_total",
		metric.WithDescription("Operation messages received from the queue"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operations received counter: %w", err)
	}

	if m.OperationsHandled, err = meter.Int64Counter(
		"ledger_operations_handled_total",
		metric.WithDescription("Operations finished, by kind and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operations handled counter: %w", err)
	}

	if m.OperationDuration, err = meter.Float64Histogram(
		"ledger_operation_duration_seconds",
		metric.WithDescription("Operation handler duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	if m.RankingRefreshes, err = meter.Int64Counter(
		"ledger_ranking_refreshes_total",
		metric.WithDescription("Ranking refreshes, by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ranking refresh counter: %w", err)
	}

	if m.RankingDuration, err = meter.Float64Histogram(
		"ledger_ranking_refresh_duration_seconds",
		metric.WithDescription("Ranking refresh duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ranking duration histogram: %w", err)
	}

	if m.GatewayCalls, err = meter.Int64Counter(
		"ledger_gateway_calls_total",
		metric.WithDescription("Remote document service calls, by capability and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create gateway call counter: %w", err)
	}

	if m.CredentialRefresh, err = meter.Int64Counter(
		"ledger_credential_refreshes_total",
		metric.WithDescription("Access token refreshes, by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create credential refresh counter: %w", err)
	}

	if m.HTTPRequests, err = meter.Int64Counter(
		"ledger_http_requests_total",
		metric.WithDescription("HTTP requests, by route and status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http request counter: %w", err)
	}

	if m.HTTPDuration, err = meter.Float64Histogram(
		"ledger_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// OperationReceived counts a message taken off the queue
func (m *WorkerMetrics) OperationReceived(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.OperationsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// OperationFinished records the outcome and duration of one operation
func (m *WorkerMetrics) OperationFinished(ctx context.Context, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.OperationsHandled.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, d.Seconds(), attrs)
}

// RankingRefreshed records one ranking refresh
func (m *WorkerMetrics) RankingRefreshed(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcomeOf(err)))
	m.RankingRefreshes.Add(ctx, 1, attrs)
	m.RankingDuration.Record(ctx, d.Seconds(), attrs)
}

// GatewayCall counts one remote call
func (m *WorkerMetrics) GatewayCall(ctx context.Context, capability string, err error) {
	if m == nil {
		return
	}
	m.GatewayCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("outcome", outcomeOf(err)),
	))
}

// CredentialRefreshed counts a token refresh; outcome is free-form
// ("success", "rejected", "transient").
func (m *WorkerMetrics) CredentialRefreshed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.CredentialRefresh.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// HTTPRequest records one served request
func (m *WorkerMetrics) HTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", status),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.HTTPDuration.Record(ctx, d.Seconds(), attrs)
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
