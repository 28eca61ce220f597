// Package notify keeps the set of scheduled notifications consistent with
// the current state of each reminder. It computes the desired set from the
// reminder's notification policy and reconciles it against what the delivery
// transport actually has registered, using deterministic identifiers so the
// whole process is idempotent and safe to re-run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
)

// ErrUnavailable marks a recoverable transport outage. Transport
// implementations wrap their I/O failures with it; the synchronizer records
// it in the report and moves on rather than aborting the reconcile.
var ErrUnavailable = errors.New("delivery transport unavailable")

// idSep separates the identifier segments. Prefix matching on
// "reminderID + idSep" is one of the teardown strategies, so the separator
// must never appear in reminder ids (UUIDs are safe).
const idSep = ":"

// ID derives the deterministic notification identifier for one lead-time
// offset of one occurrence. Same inputs always produce the same identifier,
// across calls and process restarts; the reminder id is the prefix.
func ID(reminderID string, anchor recurrence.Date, offsetMinutes int) string {
	return fmt.Sprintf("%s%s%s%s%d", reminderID, idSep, anchor, idSep, offsetMinutes)
}

// OwnsID reports whether a notification identifier belongs to the given
// reminder, either exactly (legacy single-notification form) or by prefix.
func OwnsID(id, reminderID string) bool {
	return id == reminderID || strings.HasPrefix(id, reminderID+idSep)
}

// Request asks the transport to register one future notification.
type Request struct {
	ID         string
	ReminderID string
	UserID     string
	Title      string
	Body       string
	FireAt     time.Time
}

// Scheduled is one entry currently registered with the transport. ReminderID
// is owner metadata and may be empty when the transport could not preserve
// it; teardown compensates with id-based matching.
type Scheduled struct {
	ID         string
	ReminderID string
	UserID     string
	Title      string
	Body       string
	FireAt     time.Time
}

// Transport is the delivery collaborator. Schedule must upsert (a duplicate
// call with the same identifier is harmless) and Cancel must treat an
// unknown identifier as a no-op; both properties back the idempotence of
// reconciliation.
type Transport interface {
	Schedule(ctx context.Context, req Request) error
	Cancel(ctx context.Context, id string) error
	ListScheduled(ctx context.Context) ([]Scheduled, error)
}

func (r Request) scheduled() Scheduled {
	return Scheduled{
		ID:         r.ID,
		ReminderID: r.ReminderID,
		UserID:     r.UserID,
		Title:      r.Title,
		Body:       r.Body,
		FireAt:     r.FireAt,
	}
}

func describeOffset(minutes int) string {
	switch {
	case minutes <= 0:
		return "now"
	case minutes < 60:
		return fmt.Sprintf("in %d minutes", minutes)
	case minutes%(24*60) == 0:
		days := minutes / (24 * 60)
		if days == 1 {
			return "tomorrow"
		}
		return fmt.Sprintf("in %d days", days)
	case minutes%60 == 0:
		hours := minutes / 60
		if hours == 1 {
			return "in 1 hour"
		}
		return fmt.Sprintf("in %d hours", hours)
	default:
		return fmt.Sprintf("in %dh%02dm", minutes/60, minutes%60)
	}
}
