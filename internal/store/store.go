package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
)

var (
	// ErrNotFound reports a mutation against a record that does not exist.
	// Point reads return (nil, nil) for absent records instead.
	ErrNotFound = errors.New("record not found")

	// ErrConflict reports an optimistic-concurrency failure: the record's
	// version moved since the caller loaded it. Surfaced, never auto-retried.
	ErrConflict = errors.New("version conflict")
)

// DefaultPageSize is the page length for reminder queries and feed
// snapshots.
const DefaultPageSize = 25

// ReminderUpdate is a partial update; nil fields leave the stored value
// unchanged.
type ReminderUpdate struct {
	Title          *string
	Description    *string
	DueDate        *recurrence.Date
	DueTime        *string
	Timezone       *string
	RecurrenceRule *string
	AnchorDate     *recurrence.Date
	Sequence       *int
	State          *string
	AssignedTo     *[]string
	Notify         *model.NotificationPolicy
	CompletedBy    *string
	CompletedAt    *time.Time
}

// ReminderQuery selects a page of reminders visible to a user: their own
// plus, when FamilyID is set, the family's shared ones. Ordered by due date,
// soonest first.
type ReminderQuery struct {
	OwnerID  string
	FamilyID string
	Page     int
	PageSize int
}

type ReminderPage struct {
	Reminders []*model.Reminder
	Page      int
	HasMore   bool
}

// Filter scopes a change feed to the same visibility as ReminderQuery.
type Filter struct {
	OwnerID  string
	FamilyID string
}

// Feed is a cancellable change-feed handle. Each element on C is a fresh
// first-page snapshot of the filtered reminder list; slow consumers see the
// latest snapshot, not every intermediate one.
type Feed struct {
	C      <-chan []*model.Reminder
	cancel func()
	once   sync.Once
}

// Cancel unregisters the subscription and closes C. Safe to call more than
// once.
func (f *Feed) Cancel() {
	f.once.Do(f.cancel)
}

// Store is the document store behind the reminder engine. Two production
// backends exist, sqlite (local) and mongo (hosted), picked at construction;
// the memory backend backs tests. All implementations are safe for
// concurrent use.
type Store interface {
	CreateReminder(ctx context.Context, r *model.Reminder) (*model.Reminder, error)
	GetReminder(ctx context.Context, id string) (*model.Reminder, error)
	UpdateReminder(ctx context.Context, id string, version int64, upd ReminderUpdate) (*model.Reminder, error)
	DeleteReminder(ctx context.Context, id string) error
	QueryReminders(ctx context.Context, q ReminderQuery) (*ReminderPage, error)
	SubscribeReminders(ctx context.Context, f Filter) (*Feed, error)

	CreateFamily(ctx context.Context, fam *model.Family) (*model.Family, error)
	GetFamily(ctx context.Context, id string) (*model.Family, error)
	DeleteFamily(ctx context.Context, id string) error
	AddMember(ctx context.Context, m *model.FamilyMember) (*model.FamilyMember, error)
	ListMembers(ctx context.Context, familyID string) ([]*model.FamilyMember, error)
	RemoveMember(ctx context.Context, id string) error
	FamilyForUser(ctx context.Context, userID string) (*model.Family, error)

	Close() error
}

// applyUpdate folds a partial update into a loaded record. Shared by
// backends that read-modify-write.
func applyUpdate(r *model.Reminder, upd ReminderUpdate) {
	if upd.Title != nil {
		r.Title = *upd.Title
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.DueDate != nil {
		r.DueDate = *upd.DueDate
	}
	if upd.DueTime != nil {
		r.DueTime = *upd.DueTime
	}
	if upd.Timezone != nil {
		r.Timezone = *upd.Timezone
	}
	if upd.RecurrenceRule != nil {
		r.RecurrenceRule = *upd.RecurrenceRule
	}
	if upd.AnchorDate != nil {
		r.AnchorDate = *upd.AnchorDate
	}
	if upd.Sequence != nil {
		r.Sequence = *upd.Sequence
	}
	if upd.State != nil {
		r.State = *upd.State
	}
	if upd.AssignedTo != nil {
		r.AssignedTo = append([]string(nil), (*upd.AssignedTo)...)
	}
	if upd.Notify != nil {
		r.Notify = model.NotificationPolicy{
			Enabled:       upd.Notify.Enabled,
			OffsetMinutes: append([]int(nil), upd.Notify.OffsetMinutes...),
		}
	}
	if upd.CompletedBy != nil {
		r.CompletedBy = *upd.CompletedBy
	}
	if upd.CompletedAt != nil {
		at := *upd.CompletedAt
		r.CompletedAt = &at
	}
}
