package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/database"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

// fakeSender records sends and injects per-endpoint failures.
type fakeSender struct {
	mu    sync.Mutex
	sent  []*model.ScheduledNotification
	fails map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{fails: make(map[string]error)}
}

func (f *fakeSender) Send(sub *model.PushSubscription, n *model.ScheduledNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fails[sub.Endpoint]; err != nil {
		return err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func setupDispatcher(t *testing.T, now time.Time) (*Dispatcher, *fakeSender, *store.PushStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ps := store.NewPushStore(db)
	sender := newFakeSender()
	d := NewDispatcher(sender, ps, clock.NewFixed(now), slog.New(slog.DiscardHandler))
	return d, sender, ps
}

func TestTransportRoundTrip(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	tr := NewTransport(store.NewPushStore(db))
	ctx := context.Background()

	req := notify.Request{
		ID:         "rem-1:2024-01-15:15",
		ReminderID: "rem-1",
		UserID:     "u1",
		Title:      "Dentist",
		Body:       "Due in 15 minutes",
		FireAt:     time.Date(2024, time.January, 15, 13, 45, 0, 0, time.UTC),
	}
	if err := tr.Schedule(ctx, req); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	listed, err := tr.ListScheduled(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("got %d entries, want 1", len(listed))
	}
	got := listed[0]
	if got.ID != req.ID || got.ReminderID != req.ReminderID || !got.FireAt.Equal(req.FireAt) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := tr.Cancel(ctx, req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := tr.Cancel(ctx, "unknown"); err != nil {
		t.Fatalf("cancel unknown must be a no-op: %v", err)
	}
	listed, err = tr.ListScheduled(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("got %d entries after cancel, want 0", len(listed))
	}
}

func TestDispatcherDeliversDueNotifications(t *testing.T) {
	now := time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)
	d, sender, ps := setupDispatcher(t, now)
	ctx := context.Background()

	if _, err := ps.CreateSubscription(ctx, &model.PushSubscription{
		UserID: "u1", Endpoint: "https://push.example/dev1", P256dhKey: "k", AuthKey: "a",
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	for _, n := range []*model.ScheduledNotification{
		{ID: "rem-1:2024-01-15:15", ReminderID: "rem-1", UserID: "u1", Title: "due", FireAt: now.Add(-time.Minute)},
		{ID: "rem-2:2024-02-01:15", ReminderID: "rem-2", UserID: "u1", Title: "future", FireAt: now.Add(time.Hour)},
	} {
		if err := ps.ScheduleNotification(ctx, n); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	d.Tick(ctx)

	if sender.sentCount() != 1 {
		t.Fatalf("sent %d pushes, want 1 (only the due row)", sender.sentCount())
	}
	pending, err := ps.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "rem-2:2024-02-01:15" {
		t.Fatalf("pending = %+v, want only the future row", pending)
	}

	// Delivered rows are not re-sent.
	d.Tick(ctx)
	if sender.sentCount() != 1 {
		t.Errorf("sent %d pushes after second tick, want still 1", sender.sentCount())
	}
}

func TestDispatcherPrunesExpiredSubscription(t *testing.T) {
	now := time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)
	d, sender, ps := setupDispatcher(t, now)
	ctx := context.Background()

	if _, err := ps.CreateSubscription(ctx, &model.PushSubscription{
		UserID: "u1", Endpoint: "https://push.example/dead", P256dhKey: "k", AuthKey: "a",
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if _, err := ps.CreateSubscription(ctx, &model.PushSubscription{
		UserID: "u1", Endpoint: "https://push.example/live", P256dhKey: "k", AuthKey: "a",
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	sender.fails["https://push.example/dead"] = ErrExpired

	if err := ps.ScheduleNotification(ctx, &model.ScheduledNotification{
		ID: "rem-1:2024-01-15:15", ReminderID: "rem-1", UserID: "u1", FireAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	d.Tick(ctx)

	// The live device got the push, the dead one was pruned.
	if sender.sentCount() != 1 {
		t.Errorf("sent %d pushes, want 1", sender.sentCount())
	}
	subs, err := ps.ListSubscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example/live" {
		t.Fatalf("subscriptions = %+v, want only the live device", subs)
	}
}

func TestDispatcherMarksDoneWithoutDevices(t *testing.T) {
	now := time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)
	d, _, ps := setupDispatcher(t, now)
	ctx := context.Background()

	if err := ps.ScheduleNotification(ctx, &model.ScheduledNotification{
		ID: "rem-1:2024-01-15:15", ReminderID: "rem-1", UserID: "ghost", FireAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	d.Tick(ctx)

	pending, err := ps.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("row for user without devices still pending: %+v", pending)
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	now := time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)
	d, sender, ps := setupDispatcher(t, now)
	ctx := context.Background()

	if _, err := ps.CreateSubscription(ctx, &model.PushSubscription{
		UserID: "u1", Endpoint: "https://push.example/flaky", P256dhKey: "k", AuthKey: "a",
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	sender.fails["https://push.example/flaky"] = fmt.Errorf("%w: push service returned 503", notify.ErrUnavailable)

	if err := ps.ScheduleNotification(ctx, &model.ScheduledNotification{
		ID: "rem-1:2024-01-15:15", ReminderID: "rem-1", UserID: "u1", FireAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Bound the in-tick backoff so the test stays fast.
	tickCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	d.Tick(tickCtx)
	cancel()

	// Still pending with a bumped attempt counter.
	pending, err := ps.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v, want the undelivered row", pending)
	}
	if pending[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", pending[0].Attempts)
	}

	// Endpoint recovers; the next tick delivers.
	sender.mu.Lock()
	delete(sender.fails, "https://push.example/flaky")
	sender.mu.Unlock()

	d.Tick(ctx)
	if sender.sentCount() != 1 {
		t.Errorf("sent %d pushes after recovery, want 1", sender.sentCount())
	}
}

func TestDispatcherDoesNotRetryPermanentRejection(t *testing.T) {
	now := time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)
	d, sender, ps := setupDispatcher(t, now)
	ctx := context.Background()

	if _, err := ps.CreateSubscription(ctx, &model.PushSubscription{
		UserID: "u1", Endpoint: "https://push.example/reject", P256dhKey: "k", AuthKey: "a",
	}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	sender.fails["https://push.example/reject"] = errors.New("push service returned 400")

	if err := ps.ScheduleNotification(ctx, &model.ScheduledNotification{
		ID: "rem-1:2024-01-15:15", ReminderID: "rem-1", UserID: "u1", FireAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// A hard rejection ends the attempt immediately; no backoff, so the
	// tick finishes well inside the retry window.
	start := time.Now()
	d.Tick(ctx)
	if took := time.Since(start); took > maxRetryDuration/2 {
		t.Errorf("tick took %v, want no backoff for a permanent rejection", took)
	}

	pending, err := ps.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("pending = %+v, want the row with one attempt", pending)
	}
	if sender.sentCount() != 0 {
		t.Errorf("sent %d pushes, want 0", sender.sentCount())
	}
}
