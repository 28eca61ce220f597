package model

import (
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
)

// Reminder lifecycle states. Deleted reminders have no row at all; completed
// ones stay as history.
const (
	StateDraft     = "draft"
	StateScheduled = "scheduled"
	StateCompleted = "completed"
	StateDeleted   = "deleted"
)

type Reminder struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	FamilyID    string          `json:"family_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	DueDate     recurrence.Date `json:"due_date"`
	DueTime     string          `json:"due_time,omitempty"` // HH:MM local, empty = all-day
	Timezone    string          `json:"timezone"`

	// RecurrenceRule is the stored rule form (see recurrence.Parse); empty
	// means one-shot. AnchorDate is the date the pattern hangs off and is
	// carried unchanged to successors; Sequence is the 1-based occurrence
	// number used to enforce COUNT end conditions.
	RecurrenceRule string          `json:"recurrence_rule,omitempty"`
	AnchorDate     recurrence.Date `json:"anchor_date"`
	Sequence       int             `json:"sequence"`

	State       string             `json:"state"`
	AssignedTo  []string           `json:"assigned_to,omitempty"`
	Notify      NotificationPolicy `json:"notify"`
	CompletedBy string             `json:"completed_by,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationPolicy lists the lead-time offsets, in minutes before the due
// instant, at which the reminder should fire.
type NotificationPolicy struct {
	Enabled       bool  `json:"enabled"`
	OffsetMinutes []int `json:"offset_minutes"`
}

func (r *Reminder) Recurring() bool {
	return r.RecurrenceRule != ""
}

// Clone returns a deep copy safe to hand to cache readers and hub
// broadcasts while the original keeps changing.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	out := *r
	if r.AssignedTo != nil {
		out.AssignedTo = append([]string(nil), r.AssignedTo...)
	}
	if r.Notify.OffsetMinutes != nil {
		out.Notify.OffsetMinutes = append([]int(nil), r.Notify.OffsetMinutes...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

// CloneReminders deep-copies a snapshot slice.
func CloneReminders(in []*Reminder) []*Reminder {
	if in == nil {
		return nil
	}
	out := make([]*Reminder, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
