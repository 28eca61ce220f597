// Package lifecycle owns the state transitions of a reminder: create,
// update, complete, delete. Each transition persists the record first, then
// reconciles notifications, then invalidates the read cache, in that order.
// A caller that observes a finished transition knows the record is durable
// even if a notification call is still failing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/cache"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

var (
	// ErrNoOccurrence reports a recurrence rule whose end condition leaves
	// no occurrence on or after the requested start date.
	ErrNoOccurrence = errors.New("recurrence produces no occurrence")

	// ErrNotScheduled reports a transition attempted on a reminder that is
	// no longer in the scheduled state, e.g. completing an
	// already-completed instance from a second device.
	ErrNotScheduled = errors.New("reminder is not scheduled")
)

// Events receives a message after every committed transition, once the
// cache has been invalidated. The device sync hub implements it; tests use
// NopEvents.
type Events interface {
	ReminderChanged(action string, r *model.Reminder)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) ReminderChanged(string, *model.Reminder) {}

// Result reports the outcome of a transition. Notifications carries the
// reconcile outcome for the primary record (and, on completion, the
// successor); Cleanup is set on deletion. Side-effect failures inside these
// reports never mean the transition itself failed.
type Result struct {
	Reminder      *model.Reminder
	Successor     *model.Reminder
	Notifications notify.Report
	Cleanup       *notify.TeardownReport
}

// Degraded reports whether the transition succeeded but left a notification
// side effect incomplete. Callers surface this distinctly from a rejected
// transition.
func (r *Result) Degraded() bool {
	if r.Notifications.Failed() {
		return true
	}
	return r.Cleanup != nil && (r.Cleanup.Failed() || r.Cleanup.Remaining > 0)
}

// CreateInput is everything needed to schedule a new reminder.
type CreateInput struct {
	OwnerID     string
	FamilyID    string
	Title       string
	Description string
	StartDate   recurrence.Date
	DueTime     string
	Timezone    string
	// RecurrenceRule is the stored rule form; empty means one-shot.
	RecurrenceRule string
	AssignedTo     []string
	Notify         model.NotificationPolicy
}

// Controller drives reminder transitions. It does not serialize calls for
// the same reminder itself; the store's versioned updates reject concurrent
// writers with ErrConflict, which is surfaced, never auto-retried.
type Controller struct {
	store  store.Store
	sync   *notify.Synchronizer
	cache  *cache.Cache
	clk    clock.Clock
	events Events
	logger *slog.Logger
}

func NewController(st store.Store, sync *notify.Synchronizer, c *cache.Cache, clk clock.Clock, events Events, logger *slog.Logger) *Controller {
	if events == nil {
		events = NopEvents{}
	}
	return &Controller{
		store:  st,
		sync:   sync,
		cache:  c,
		clk:    clk,
		events: events,
		logger: logger,
	}
}

// Create validates the input, materializes the first occurrence for
// recurring reminders, and persists the record in the scheduled state.
// Invalid input fails fast with nothing persisted.
func (c *Controller) Create(ctx context.Context, in CreateInput) (*Result, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("create reminder: title is required")
	}
	if in.StartDate.IsZero() {
		return nil, fmt.Errorf("create reminder: start date is required")
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}
	if _, err := c.clk.Location(in.Timezone); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	if in.DueTime != "" {
		if _, err := time.Parse("15:04", in.DueTime); err != nil {
			return nil, fmt.Errorf("create reminder: due time %q: %w", in.DueTime, err)
		}
	}

	due := in.StartDate
	if in.RecurrenceRule != "" {
		rule, err := recurrence.Parse(in.RecurrenceRule)
		if err != nil {
			return nil, fmt.Errorf("create reminder: %w", err)
		}
		// First occurrence on or after the start date: the pattern anchors
		// at the start, so probe from the day before.
		next, ok := recurrence.Next(rule, in.StartDate, in.StartDate.AddDays(-1))
		if !ok {
			return nil, fmt.Errorf("create reminder: %w: end condition precedes %s", ErrNoOccurrence, in.StartDate)
		}
		due = next
	}

	rec, err := c.store.CreateReminder(ctx, &model.Reminder{
		OwnerID:        in.OwnerID,
		FamilyID:       in.FamilyID,
		Title:          in.Title,
		Description:    in.Description,
		DueDate:        due,
		DueTime:        in.DueTime,
		Timezone:       in.Timezone,
		RecurrenceRule: in.RecurrenceRule,
		AnchorDate:     due,
		Sequence:       1,
		State:          model.StateScheduled,
		AssignedTo:     in.AssignedTo,
		Notify:         in.Notify,
	})
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	res := &Result{Reminder: rec}
	res.Notifications = c.reconcile(ctx, rec)
	c.invalidate(rec)
	c.events.ReminderChanged("created", rec)
	return res, nil
}

// Update applies a partial edit under optimistic concurrency. A version
// mismatch surfaces store.ErrConflict for the caller to retry with fresh
// state. Edits that touch timing or the notification policy tear the
// reminder's notifications down and re-register them; incremental patching
// of fire times is not attempted.
func (c *Controller) Update(ctx context.Context, id string, version int64, upd store.ReminderUpdate) (*Result, error) {
	cur, err := c.store.GetReminder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if cur == nil {
		return nil, fmt.Errorf("update reminder: %w", store.ErrNotFound)
	}
	if cur.State != model.StateScheduled {
		return nil, fmt.Errorf("update reminder: %w", ErrNotScheduled)
	}

	if upd.RecurrenceRule != nil && *upd.RecurrenceRule != "" {
		if _, err := recurrence.Parse(*upd.RecurrenceRule); err != nil {
			return nil, fmt.Errorf("update reminder: %w", err)
		}
	}
	if upd.Timezone != nil {
		if _, err := c.clk.Location(*upd.Timezone); err != nil {
			return nil, fmt.Errorf("update reminder: %w", err)
		}
	}
	if upd.DueTime != nil && *upd.DueTime != "" {
		if _, err := time.Parse("15:04", *upd.DueTime); err != nil {
			return nil, fmt.Errorf("update reminder: due time %q: %w", *upd.DueTime, err)
		}
	}
	// Moving the due date re-anchors the pattern unless the caller pinned
	// the anchor explicitly.
	if upd.DueDate != nil && upd.AnchorDate == nil {
		upd.AnchorDate = upd.DueDate
	}

	timingChanged := upd.DueDate != nil || upd.DueTime != nil || upd.Timezone != nil || upd.Notify != nil

	rec, err := c.store.UpdateReminder(ctx, id, version, upd)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}

	res := &Result{Reminder: rec}
	if timingChanged {
		rep := c.sync.Teardown(ctx, rec.ID)
		res.Cleanup = &rep
	}
	res.Notifications = c.reconcile(ctx, rec)
	c.invalidate(rec)
	c.events.ReminderChanged("updated", rec)
	return res, nil
}

// Complete marks the instance completed and, for recurring reminders whose
// end condition is not exhausted, materializes exactly one successor
// carrying the same rule, policy, and assignment. The completed instance is
// kept as history. Completing a non-scheduled instance (raced from another
// device) is rejected with ErrNotScheduled.
func (c *Controller) Complete(ctx context.Context, id string, version int64, completedBy string) (*Result, error) {
	cur, err := c.store.GetReminder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("complete reminder: %w", err)
	}
	if cur == nil {
		return nil, fmt.Errorf("complete reminder: %w", store.ErrNotFound)
	}
	if cur.State != model.StateScheduled {
		return nil, fmt.Errorf("complete reminder: %w", ErrNotScheduled)
	}

	// Parse before persisting anything: a malformed rule rejects the whole
	// transition rather than completing without a successor.
	var rule recurrence.Rule
	if cur.Recurring() {
		rule, err = recurrence.Parse(cur.RecurrenceRule)
		if err != nil {
			return nil, fmt.Errorf("complete reminder: %w", err)
		}
	}

	now := c.clk.Now()
	state := model.StateCompleted
	rec, err := c.store.UpdateReminder(ctx, id, version, store.ReminderUpdate{
		State:       &state,
		CompletedBy: &completedBy,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("complete reminder: %w", err)
	}

	res := &Result{Reminder: rec}
	// A completed reminder wants no notifications; reconciling clears them.
	res.Notifications = c.reconcile(ctx, rec)

	if cur.Recurring() {
		if succ := c.nextInstance(cur, rule); succ != nil {
			created, err := c.store.CreateReminder(ctx, succ)
			if err != nil {
				// The completion itself stands and is already durable, so
				// devices still hear about it; the successor is the part
				// that failed. Surface it.
				c.invalidate(rec)
				c.events.ReminderChanged("completed", rec)
				return res, fmt.Errorf("create successor: %w", err)
			}
			res.Successor = created
			succRep := c.reconcile(ctx, created)
			res.Notifications.Scheduled += succRep.Scheduled
			res.Notifications.Cancelled += succRep.Cancelled
			res.Notifications.Errors = append(res.Notifications.Errors, succRep.Errors...)
		}
	}

	c.invalidate(rec)
	c.events.ReminderChanged("completed", rec)
	if res.Successor != nil {
		c.events.ReminderChanged("created", res.Successor)
	}
	return res, nil
}

// nextInstance builds the successor record, or nil when the end condition
// is exhausted. COUNT counts completed occurrences: the sequence number of
// the instance just completed is compared against it, so COUNT=3 yields
// exactly three instances and no fourth.
func (c *Controller) nextInstance(cur *model.Reminder, rule recurrence.Rule) *model.Reminder {
	if rule.Count > 0 && cur.Sequence >= rule.Count {
		return nil
	}
	next, ok := recurrence.Next(rule, cur.AnchorDate, cur.DueDate)
	if !ok {
		return nil
	}
	return &model.Reminder{
		OwnerID:        cur.OwnerID,
		FamilyID:       cur.FamilyID,
		Title:          cur.Title,
		Description:    cur.Description,
		DueDate:        next,
		DueTime:        cur.DueTime,
		Timezone:       cur.Timezone,
		RecurrenceRule: cur.RecurrenceRule,
		AnchorDate:     cur.AnchorDate,
		Sequence:       cur.Sequence + 1,
		State:          model.StateScheduled,
		AssignedTo:     append([]string(nil), cur.AssignedTo...),
		Notify: model.NotificationPolicy{
			Enabled:       cur.Notify.Enabled,
			OffsetMinutes: append([]int(nil), cur.Notify.OffsetMinutes...),
		},
	}
}

// Delete removes the record, then tears its notifications down best-effort.
// Cleanup failure is reported in the result, never used to resurrect the
// record; already-materialized successors are untouched and no new
// successor is generated.
func (c *Controller) Delete(ctx context.Context, id string) (*Result, error) {
	cur, err := c.store.GetReminder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete reminder: %w", err)
	}
	if cur == nil {
		return nil, fmt.Errorf("delete reminder: %w", store.ErrNotFound)
	}

	if err := c.store.DeleteReminder(ctx, id); err != nil {
		return nil, fmt.Errorf("delete reminder: %w", err)
	}

	rep := c.sync.Teardown(ctx, id)
	res := &Result{Reminder: cur, Cleanup: &rep}

	c.invalidate(cur)
	c.events.ReminderChanged("deleted", cur)
	return res, nil
}

// Get loads a reminder; nil when absent.
func (c *Controller) Get(ctx context.Context, id string) (*model.Reminder, error) {
	return c.store.GetReminder(ctx, id)
}

// Preview expands a rule into its first occurrences from the given start
// date. UI preview only; nothing is persisted or scheduled.
func (c *Controller) Preview(ruleText string, start recurrence.Date, max int) ([]recurrence.Date, error) {
	rule, err := recurrence.Parse(ruleText)
	if err != nil {
		return nil, err
	}
	if max <= 0 || max > 50 {
		max = 10
	}
	return recurrence.Generate(rule, start, max, nil), nil
}

func (c *Controller) reconcile(ctx context.Context, r *model.Reminder) notify.Report {
	rep, err := c.sync.Reconcile(ctx, r)
	if err != nil {
		// Data errors (bad zone slipped into the store) are reported the
		// same way as transport trouble: the record transition stands.
		rep.Errors = append(rep.Errors, err)
	}
	return rep
}

func (c *Controller) invalidate(r *model.Reminder) {
	c.cache.Invalidate(r.OwnerID)
	c.cache.InvalidateFamily(r.FamilyID)
}
