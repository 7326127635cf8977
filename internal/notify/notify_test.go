package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zaptest"
)

// mockNotifier records events and returns err.
type mockNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
	delay  time.Duration
}

func (m *mockNotifier) Notify(ctx context.Context, event Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockNotifier) got() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

var testEvent = Event{
	Type:       EventSessionTerminated,
	EntityID:   "session-1",
	RoleID:     "role-1",
	OccurredAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	a := &mockNotifier{}
	b := &mockNotifier{err: errors.New("broker down")}
	c := &mockNotifier{}

	err := Multi{a, nil, b, c}.Notify(context.Background(), testEvent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, a.got(), 1)
	assert.Len(t, b.got(), 1)
	assert.Len(t, c.got(), 1)
}

func TestAsync_NeverReturnsDeliveryError(t *testing.T) {
	next := &mockNotifier{err: errors.New("unreachable")}
	a := NewAsync(next, zaptest.NewLogger(t))

	assert.NoError(t, a.Notify(context.Background(), testEvent))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Drain(ctx))
	assert.Equal(t, []Event{testEvent}, next.got())
}

func TestAsync_IgnoresCallerCancellation(t *testing.T) {
	next := &mockNotifier{delay: 20 * time.Millisecond}
	a := NewAsync(next, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Notify(ctx, Event{Type: EventCompletionRecorded, EntityID: "task-1"}))
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	require.NoError(t, a.Drain(drainCtx))
	events := next.got()
	require.Len(t, events, 1)
	assert.False(t, events[0].OccurredAt.IsZero(), "OccurredAt should be stamped")
}

func TestAsync_DrainTimesOut(t *testing.T) {
	next := &mockNotifier{delay: time.Second}
	a := NewAsync(next, nil)
	require.NoError(t, a.Notify(context.Background(), testEvent))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Drain(ctx), context.DeadlineExceeded)
}

func TestRedisNotifier_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "kiosk-changes")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client, "kiosk-changes")
	require.NoError(t, n.Notify(ctx, testEvent))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, testEvent.Type, got.Type)
		assert.Equal(t, "session-1", got.EntityID)
		assert.True(t, testEvent.OccurredAt.Equal(got.OccurredAt))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisNotifier_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisNotifier(client, "kiosk-changes").Notify(context.Background(), testEvent)
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifierWithWriter(w)
	require.NoError(t, n.Notify(context.Background(), testEvent))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("role-1"), w.msgs[0].Key)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("session_terminated"), w.msgs[0].Headers[0].Value)

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "session-1", got.EntityID)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_NilWhenUnconfigured(t *testing.T) {
	n := NewKafkaNotifier(nil, "topic")
	assert.Nil(t, n)
	assert.NoError(t, n.Notify(context.Background(), testEvent))
	assert.NoError(t, n.Close())
}

type recordCapture struct {
	records []otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.records = append(r.records, rec)
}

func TestOTelNotifier_Attributes(t *testing.T) {
	capture := &recordCapture{}
	n := NewOTelNotifierWithLogger(capture)
	ev := testEvent
	ev.PersonID = "person-7"
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, capture.records, 1)

	rec := capture.records[0]
	assert.True(t, rec.Timestamp().Equal(testEvent.OccurredAt))
	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	assert.Equal(t, map[string]string{
		"event_type": "session_terminated",
		"entity_id":  "session-1",
		"person_id":  "person-7",
		"role_id":    "role-1",
	}, attrs)
}

func TestNewOTelNotifier_NilProvider(t *testing.T) {
	n := NewOTelNotifier(nil)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), testEvent))
}
