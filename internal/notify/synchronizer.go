package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

// DefaultCallTimeout bounds each individual transport call. A timed-out call
// is a recoverable error; the next reconcile retries it.
const DefaultCallTimeout = 10 * time.Second

// Report summarizes one reconcile run. Errors holds the per-call failures;
// the counts cover only what actually succeeded.
type Report struct {
	Scheduled int
	Cancelled int
	Errors    []error
}

// Failed reports whether any transport call in the run failed.
func (r Report) Failed() bool { return len(r.Errors) > 0 }

// Err collapses the per-call failures into a single error, nil when the run
// was clean.
func (r Report) Err() error { return multierr.Combine(r.Errors...) }

// TeardownReport summarizes a teardown run. Remaining counts identifiers the
// verification pass still saw after cancellation; survivors are a warning,
// never a blocking error.
type TeardownReport struct {
	Cancelled int
	Remaining int
	Errors    []error
}

func (r TeardownReport) Failed() bool { return len(r.Errors) > 0 }

func (r TeardownReport) Err() error { return multierr.Combine(r.Errors...) }

// Synchronizer reconciles desired notification state against the delivery
// transport. It holds no state of its own; every run recomputes both sides.
type Synchronizer struct {
	transport Transport
	clk       clock.Clock
	logger    *slog.Logger
	timeout   time.Duration
}

func NewSynchronizer(transport Transport, clk clock.Clock, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		transport: transport,
		clk:       clk,
		logger:    logger,
		timeout:   DefaultCallTimeout,
	}
}

// SetCallTimeout overrides the per-call transport timeout. Test hook.
func (s *Synchronizer) SetCallTimeout(d time.Duration) { s.timeout = d }

// Desired computes the notification requests a reminder should have
// registered right now: one per enabled lead-time offset, minus entries
// whose fire time has already passed. Completed reminders and disabled
// policies want nothing, so reconciling them clears the transport.
//
// Fire times are computed in the reminder's own timezone; an unknown zone or
// malformed due time is a data error and fails the whole computation.
func (s *Synchronizer) Desired(r *model.Reminder) ([]Request, error) {
	if r.State != model.StateScheduled || !r.Notify.Enabled {
		return nil, nil
	}

	loc, err := s.clk.Location(r.Timezone)
	if err != nil {
		return nil, err
	}
	due, err := clock.At(r.DueDate, r.DueTime, loc)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	var out []Request
	for _, offset := range r.Notify.OffsetMinutes {
		fireAt := due.Add(-time.Duration(offset) * time.Minute)
		if !fireAt.After(now) {
			continue
		}
		out = append(out, Request{
			ID:         ID(r.ID, r.DueDate, offset),
			ReminderID: r.ID,
			UserID:     r.OwnerID,
			Title:      r.Title,
			Body:       fmt.Sprintf("Due %s", describeOffset(offset)),
			FireAt:     fireAt,
		})
	}
	return out, nil
}

// Reconcile brings the transport's registered set for one reminder in line
// with the desired set. Entries matching on identifier and fire time are
// left untouched; stale entries are cancelled; missing ones are scheduled.
// An immediate second call on an unchanged reminder therefore reports
// 0 scheduled, 0 cancelled.
//
// Transport failures never abort the run: each failed call lands in
// Report.Errors and the rest proceed. The returned error is reserved for
// invalid reminder data (bad timezone, malformed due time).
func (s *Synchronizer) Reconcile(ctx context.Context, r *model.Reminder) (Report, error) {
	desired, err := s.Desired(r)
	if err != nil {
		return Report{}, fmt.Errorf("compute desired notifications: %w", err)
	}
	want := make(map[string]Request, len(desired))
	for _, req := range desired {
		want[req.ID] = req
	}

	var rep Report

	actual, err := s.list(ctx)
	if err != nil {
		// Without the actual set nothing can be safely diffed; report and
		// let the next reconcile retry.
		rep.Errors = append(rep.Errors, fmt.Errorf("list scheduled: %w", err))
		return rep, nil
	}

	matched := make(map[string]bool, len(want))
	for _, got := range actual {
		if !OwnsID(got.ID, r.ID) {
			continue
		}
		req, ok := want[got.ID]
		if ok && req.FireAt.Equal(got.FireAt) {
			matched[got.ID] = true
			continue
		}
		if err := s.cancel(ctx, got.ID); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("cancel %s: %w", got.ID, err))
			continue
		}
		rep.Cancelled++
	}

	for id, req := range want {
		if matched[id] {
			continue
		}
		if err := s.schedule(ctx, req); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("schedule %s: %w", id, err))
			continue
		}
		rep.Scheduled++
	}

	if rep.Failed() {
		s.logger.Warn("reconcile incomplete",
			"reminder_id", r.ID,
			"scheduled", rep.Scheduled,
			"cancelled", rep.Cancelled,
			"errors", rep.Err())
	}
	return rep, nil
}

// Teardown cancels every registered notification referencing the reminder.
// Three lookup strategies run independently, because the transport is an
// external system that may not expose owner metadata reliably:
//
//  1. owner-reference match on the entry's reminder metadata,
//  2. exact-id match (identifier == reminder id, legacy form),
//  3. prefix match on the deterministic identifier scheme.
//
// A failed strategy is recorded and the rest still run. A verification pass
// re-lists afterwards and reports survivors as Remaining; leftovers are a
// warning only and never block the caller's own deletion of the reminder.
func (s *Synchronizer) Teardown(ctx context.Context, reminderID string) TeardownReport {
	var rep TeardownReport
	cancelled := make(map[string]bool)

	cancelOne := func(id, strategy string) {
		if cancelled[id] {
			return
		}
		if err := s.cancel(ctx, id); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("%s cancel %s: %w", strategy, id, err))
			return
		}
		cancelled[id] = true
		rep.Cancelled++
	}

	actual, listErr := s.list(ctx)
	if listErr != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("list scheduled: %w", listErr))
	}
	listed := make(map[string]bool, len(actual))
	for _, got := range actual {
		listed[got.ID] = true
	}

	// Strategy 1: owner-reference metadata.
	for _, got := range actual {
		if got.ReminderID == reminderID {
			cancelOne(got.ID, "owner-ref")
		}
	}

	// Strategy 2: exact id. Runs blind even when listing failed; Cancel on
	// an unknown identifier is a no-op, so only a listed entry counts.
	if !cancelled[reminderID] {
		if err := s.cancel(ctx, reminderID); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("exact-id cancel %s: %w", reminderID, err))
		} else {
			cancelled[reminderID] = true
			if listed[reminderID] {
				rep.Cancelled++
			}
		}
	}

	// Strategy 3: identifier prefix.
	for _, got := range actual {
		if OwnsID(got.ID, reminderID) {
			cancelOne(got.ID, "prefix")
		}
	}

	// Verification: anything still matching is reported, not retried here.
	after, err := s.list(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("verify teardown: %w", err))
	} else {
		for _, got := range after {
			if got.ReminderID == reminderID || OwnsID(got.ID, reminderID) {
				rep.Remaining++
			}
		}
	}

	if rep.Remaining > 0 || rep.Failed() {
		s.logger.Warn("teardown incomplete",
			"reminder_id", reminderID,
			"cancelled", rep.Cancelled,
			"remaining", rep.Remaining,
			"errors", rep.Err())
	}
	return rep
}

func (s *Synchronizer) list(ctx context.Context) ([]Scheduled, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.transport.ListScheduled(ctx)
}

func (s *Synchronizer) cancel(ctx context.Context, id string) error {
	ctx, cancelFn := context.WithTimeout(ctx, s.timeout)
	defer cancelFn()
	return s.transport.Cancel(ctx, id)
}

func (s *Synchronizer) schedule(ctx context.Context, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.transport.Schedule(ctx, req)
}
