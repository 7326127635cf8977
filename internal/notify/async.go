package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/logger"
)

// deliverTimeout bounds a single background delivery.
const deliverTimeout = 5 * time.Second

// Async delivers events on a goroutine so the caller is never blocked. Failures are logged.
type Async struct {
	next    Notifier
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next. A nil next behaves like Nop.
func NewAsync(next Notifier, log *zap.Logger) *Async {
	if next == nil {
		next = Nop{}
	}
	return &Async{next: next, logger: logger.OrNop(log), timeout: deliverTimeout}
}

// Notify schedules delivery and returns nil immediately. Request cancellation does not abort delivery.
func (a *Async) Notify(_ context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, event); err != nil {
			a.logger.Warn("notify: delivery failed",
				zap.String("event_type", string(event.Type)),
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
		}
	}()
	return nil
}

// Drain waits for in-flight deliveries or until ctx is done.
func (a *Async) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
