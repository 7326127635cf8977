package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"kiosk-control-plane/backend/internal/completion"
	"kiosk-control-plane/backend/internal/memstore"
	"kiosk-control-plane/backend/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

var (
	periodStart = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	target100   = 100
)

type fixture struct {
	svc      *Service
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.PutTask(completion.Task{ID: "brush-teeth", RoleID: "role-1", Type: completion.TaskTypeSimple})
	st.PutTask(completion.Task{ID: "water", RoleID: "role-1", Type: completion.TaskTypeMultipleCheckin})
	st.PutTask(completion.Task{ID: "reading", RoleID: "role-1", Type: completion.TaskTypeProgress, TargetValue: &target100})
	f := &fixture{notifier: &recordingNotifier{}, now: periodStart.Add(9 * time.Hour)}
	repo := st.Completions()
	f.svc = NewService(repo, repo, 5*time.Minute, f.notifier, nil, zaptest.NewLogger(t))
	f.svc.nowF = func() time.Time { return f.now }
	return f
}

func (f *fixture) record(t *testing.T, taskID string, value *string) (*RecordResult, error) {
	t.Helper()
	return f.svc.Record(context.Background(), RecordInput{
		TaskID: taskID, PersonID: "kid-1", RoleID: "role-1", Value: value, ResetDate: periodStart,
	})
}

func str(s string) *string { return &s }

func TestRecord_ProgressSequence(t *testing.T) {
	f := newFixture(t)
	want := []struct {
		value    string
		entry    int
		progress int
		complete bool
	}{
		{"40", 1, 40, false},
		{"35", 2, 75, false},
		{"30", 3, 100, true},
	}
	for _, w := range want {
		res, err := f.record(t, "reading", str(w.value))
		if err != nil {
			t.Fatalf("Record(%s): %v", w.value, err)
		}
		if res.EntryNumber != w.entry {
			t.Errorf("Record(%s) entry = %d, want %d", w.value, res.EntryNumber, w.entry)
		}
		if *res.Aggregate.Progress != w.progress || res.Aggregate.IsComplete != w.complete {
			t.Errorf("Record(%s) progress = %d complete = %v, want %d %v",
				w.value, *res.Aggregate.Progress, res.Aggregate.IsComplete, w.progress, w.complete)
		}
		if res.CanUndo {
			t.Errorf("PROGRESS completion should not be undoable")
		}
		f.now = f.now.Add(time.Minute)
	}

	st, err := f.svc.Status(context.Background(), "reading", "kid-1", "role-1", periodStart)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if *st.Aggregate.TotalValue != 105 || st.Aggregate.CompletionCount != 3 {
		t.Errorf("Status total = %v count = %d, want 105 3", *st.Aggregate.TotalValue, st.Aggregate.CompletionCount)
	}
}

func TestRecord_ProgressNormalizesValue(t *testing.T) {
	f := newFixture(t)
	res, err := f.record(t, "reading", str(" 25.0 "))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.Completion.Value == nil || *res.Completion.Value != "25" {
		t.Errorf("stored value = %v, want 25", res.Completion.Value)
	}
}

func TestRecord_ProgressInvalidValue(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name   string
		value  *string
		reason string
	}{
		{"missing", nil, completion.ReasonNotANumber},
		{"text", str("lots"), completion.ReasonNotANumber},
		{"fraction", str("2.5"), completion.ReasonNotAnInteger},
		{"zero", str("0"), completion.ReasonOutOfRange},
		{"too large", str("1000"), completion.ReasonOutOfRange},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.record(t, "reading", tc.value)
			if !errors.Is(err, completion.ErrInvalidProgressValue) {
				t.Fatalf("err = %v, want ErrInvalidProgressValue", err)
			}
			var pve *completion.ProgressValueError
			if !errors.As(err, &pve) || pve.Reason != tc.reason {
				t.Errorf("reason = %v, want %s", err, tc.reason)
			}
		})
	}
	st, _ := f.svc.Status(context.Background(), "reading", "kid-1", "role-1", periodStart)
	if st.Aggregate.CompletionCount != 0 {
		t.Errorf("invalid values were stored: count = %d", st.Aggregate.CompletionCount)
	}
}

func TestRecord_CheckinLimit(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= completion.MaxCheckinEntries; i++ {
		res, err := f.record(t, "water", nil)
		if err != nil {
			t.Fatalf("check-in %d: %v", i, err)
		}
		if res.EntryNumber != i {
			t.Errorf("check-in %d entry = %d", i, res.EntryNumber)
		}
		if res.Aggregate.IsComplete {
			t.Errorf("check-in task should never be complete")
		}
	}
	if _, err := f.record(t, "water", nil); !errors.Is(err, completion.ErrEntryLimitExceeded) {
		t.Fatalf("10th check-in err = %v, want ErrEntryLimitExceeded", err)
	}

	// A new period starts counting again.
	f.now = f.now.Add(24 * time.Hour)
	res, err := f.svc.Record(context.Background(), RecordInput{
		TaskID: "water", PersonID: "kid-1", ResetDate: periodStart.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("next period check-in: %v", err)
	}
	if res.EntryNumber != 1 {
		t.Errorf("next period entry = %d, want 1", res.EntryNumber)
	}
}

func TestRecord_SimpleOncePerPeriod(t *testing.T) {
	f := newFixture(t)
	res, err := f.record(t, "brush-teeth", nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Aggregate.IsComplete || !res.CanUndo || res.UndoRemainingSeconds != 300 {
		t.Errorf("result = %+v, want complete and undoable for 300s", res)
	}
	if _, err := f.record(t, "brush-teeth", nil); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("second Record err = %v, want ErrAlreadyCompleted", err)
	}
	if n := len(f.notifier.events); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
	if ev := f.notifier.events[0]; ev.Type != notify.EventCompletionRecorded || ev.PersonID != "kid-1" || ev.RoleID != "role-1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRecord_SimpleConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
		other    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Record(context.Background(), RecordInput{
				TaskID: "brush-teeth", PersonID: "kid-1", RoleID: "role-1", ResetDate: periodStart,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyCompleted):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || rejected != callers-1 || len(other) != 0 {
		t.Fatalf("ok = %d, rejected = %d, other = %v; want 1, %d, none", ok, rejected, other, callers-1)
	}
	st, err := f.svc.Status(context.Background(), "brush-teeth", "kid-1", "role-1", periodStart)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Aggregate.CompletionCount != 1 {
		t.Errorf("CompletionCount = %d, want 1", st.Aggregate.CompletionCount)
	}
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if n := len(f.notifier.events); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestRecord_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Record(ctx, RecordInput{TaskID: "brush-teeth", ResetDate: periodStart}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing person err = %v, want ErrInvalidInput", err)
	}
	future := RecordInput{TaskID: "brush-teeth", PersonID: "kid-1", ResetDate: f.now.Add(time.Hour)}
	if _, err := f.svc.Record(ctx, future); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("future reset err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.record(t, "unknown", nil); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown task err = %v, want ErrTaskNotFound", err)
	}
	otherRole := RecordInput{TaskID: "brush-teeth", PersonID: "kid-1", RoleID: "role-2", ResetDate: periodStart}
	if _, err := f.svc.Record(ctx, otherRole); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("other role err = %v, want ErrTaskNotFound", err)
	}
}

func TestUndo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.record(t, "brush-teeth", nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	f.now = f.now.Add(2 * time.Minute)
	st, err := f.svc.Status(ctx, "brush-teeth", "kid-1", "role-1", periodStart)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.CanUndo || st.UndoRemainingSeconds != 180 || st.LatestCompletionID != res.Completion.ID {
		t.Errorf("status = %+v, want undoable for 180s", st)
	}

	if _, err := f.svc.Undo(ctx, res.Completion.ID, "role-1"); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	st, _ = f.svc.Status(ctx, "brush-teeth", "kid-1", "role-1", periodStart)
	if st.Aggregate.IsComplete || st.LatestCompletionID != "" {
		t.Errorf("after undo status = %+v, want incomplete", st)
	}
	if _, err := f.svc.Undo(ctx, res.Completion.ID, "role-1"); !errors.Is(err, ErrCompletionNotFound) {
		t.Errorf("second Undo err = %v, want ErrCompletionNotFound", err)
	}
	if _, err := f.record(t, "brush-teeth", nil); err != nil {
		t.Errorf("Record after undo: %v", err)
	}
}

func TestUndo_WindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.record(t, "brush-teeth", nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	f.now = f.now.Add(5*time.Minute + time.Second)
	if _, err := f.svc.Undo(ctx, res.Completion.ID, ""); !errors.Is(err, ErrUndoWindowExpired) {
		t.Errorf("late Undo err = %v, want ErrUndoWindowExpired", err)
	}
	st, _ := f.svc.Status(ctx, "brush-teeth", "kid-1", "", periodStart)
	if st.CanUndo || st.UndoRemainingSeconds != 0 {
		t.Errorf("status = %+v, want not undoable", st)
	}
}

func TestUndo_NotSupportedForOtherTypes(t *testing.T) {
	f := newFixture(t)
	res, err := f.record(t, "water", nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := f.svc.Undo(context.Background(), res.Completion.ID, ""); !errors.Is(err, ErrUndoNotSupported) {
		t.Errorf("err = %v, want ErrUndoNotSupported", err)
	}
	if _, err := f.svc.Undo(context.Background(), res.Completion.ID, "role-2"); !errors.Is(err, ErrCompletionNotFound) {
		t.Errorf("other role err = %v, want ErrCompletionNotFound", err)
	}
}

func TestStatus_IgnoresPreviousPeriod(t *testing.T) {
	f := newFixture(t)
	if _, err := f.record(t, "brush-teeth", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	f.now = f.now.Add(24 * time.Hour)
	st, err := f.svc.Status(context.Background(), "brush-teeth", "kid-1", "role-1", periodStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Aggregate.IsComplete || st.Aggregate.CompletionCount != 0 {
		t.Errorf("new period status = %+v, want empty", st.Aggregate)
	}
}
