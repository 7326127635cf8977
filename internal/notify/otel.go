package notify

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// RecordEmitter is the part of an OTel log.Logger used by OTelNotifier.
type RecordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// OTelNotifier records each event as an OTel log record, so change events show up next to traces.
type OTelNotifier struct {
	logger RecordEmitter
}

// NewOTelNotifier returns a notifier using a logger from provider. A nil provider yields Nop.
func NewOTelNotifier(provider *sdklog.LoggerProvider) Notifier {
	if provider == nil {
		return Nop{}
	}
	return &OTelNotifier{logger: provider.Logger("kiosk.notify")}
}

// NewOTelNotifierWithLogger is used by tests to capture records.
func NewOTelNotifierWithLogger(l RecordEmitter) *OTelNotifier {
	return &OTelNotifier{logger: l}
}

func (n *OTelNotifier) Notify(ctx context.Context, event Event) error {
	rec := otellog.Record{}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.AddAttributes(
		otellog.String("event_type", string(event.Type)),
		otellog.String("entity_id", event.EntityID),
	)
	if event.PersonID != "" {
		rec.AddAttributes(otellog.String("person_id", event.PersonID))
	}
	if event.RoleID != "" {
		rec.AddAttributes(otellog.String("role_id", event.RoleID))
	}
	n.logger.Emit(ctx, rec)
	return nil
}
