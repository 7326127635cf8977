package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the kiosk counters. A nil *Metrics records nothing.
type Metrics struct {
	codesIssued         metric.Int64Counter
	codeRejections      metric.Int64Counter
	sessionsCreated     metric.Int64Counter
	sessionsTerminated  metric.Int64Counter
	completionsRecorded metric.Int64Counter
	completionsUndone   metric.Int64Counter
}

// NewMetrics creates the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.codesIssued, err = meter.Int64Counter("kiosk.codes.issued",
		metric.WithDescription("Kiosk codes issued")); err != nil {
		return nil, err
	}
	if m.codeRejections, err = meter.Int64Counter("kiosk.codes.rejected",
		metric.WithDescription("Kiosk code validations that failed, by reason")); err != nil {
		return nil, err
	}
	if m.sessionsCreated, err = meter.Int64Counter("kiosk.sessions.created",
		metric.WithDescription("Kiosk sessions created from a code")); err != nil {
		return nil, err
	}
	if m.sessionsTerminated, err = meter.Int64Counter("kiosk.sessions.terminated",
		metric.WithDescription("Kiosk sessions ended, by reason")); err != nil {
		return nil, err
	}
	if m.completionsRecorded, err = meter.Int64Counter("kiosk.completions.recorded",
		metric.WithDescription("Task completions recorded, by task type")); err != nil {
		return nil, err
	}
	if m.completionsUndone, err = meter.Int64Counter("kiosk.completions.undone",
		metric.WithDescription("Task completions undone")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) CodeIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.codesIssued.Add(ctx, 1)
}

func (m *Metrics) CodeRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.codeRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) SessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1)
}

func (m *Metrics) SessionsTerminated(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsTerminated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) CompletionRecorded(ctx context.Context, taskType string) {
	if m == nil {
		return
	}
	m.completionsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("task_type", taskType)))
}

func (m *Metrics) CompletionUndone(ctx context.Context) {
	if m == nil {
		return
	}
	m.completionsUndone.Add(ctx, 1)
}
