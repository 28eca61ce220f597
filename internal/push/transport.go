package push

import (
	"context"
	"fmt"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

// Transport is the production delivery transport: scheduled notifications
// live as rows in the push store until the dispatcher delivers them, so the
// at-least-once promise survives restarts. It implements notify.Transport.
type Transport struct {
	store *store.PushStore
}

func NewTransport(ps *store.PushStore) *Transport {
	return &Transport{store: ps}
}

// Schedule upserts the registry row. Re-scheduling an identifier is
// harmless; the synchronizer relies on that for idempotent reconciliation.
func (t *Transport) Schedule(ctx context.Context, req notify.Request) error {
	err := t.store.ScheduleNotification(ctx, &model.ScheduledNotification{
		ID:         req.ID,
		ReminderID: req.ReminderID,
		UserID:     req.UserID,
		Title:      req.Title,
		Body:       req.Body,
		FireAt:     req.FireAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", notify.ErrUnavailable, err)
	}
	return nil
}

// Cancel marks the pending row cancelled; unknown identifiers are a no-op.
func (t *Transport) Cancel(ctx context.Context, id string) error {
	if err := t.store.CancelNotification(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", notify.ErrUnavailable, err)
	}
	return nil
}

// ListScheduled returns every pending registry entry.
func (t *Transport) ListScheduled(ctx context.Context) ([]notify.Scheduled, error) {
	rows, err := t.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", notify.ErrUnavailable, err)
	}
	out := make([]notify.Scheduled, 0, len(rows))
	for _, n := range rows {
		out = append(out, notify.Scheduled{
			ID:         n.ID,
			ReminderID: n.ReminderID,
			UserID:     n.UserID,
			Title:      n.Title,
			Body:       n.Body,
			FireAt:     n.FireAt,
		})
	}
	return out, nil
}
