package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

// PushStore persists the delivery transport's state: per-user device
// subscriptions and the registry of scheduled notifications. The registry
// is what makes delivery at-least-once across restarts: rows are marked
// delivered or cancelled, never silently dropped, until pruned.
type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

// CreateSubscription registers a device, upserting on the endpoint so a
// re-subscribing browser refreshes its keys instead of duplicating rows.
func (s *PushStore) CreateSubscription(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, sub.DeviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	return s.getSubscriptionByEndpoint(ctx, sub.Endpoint)
}

func (s *PushStore) getSubscriptionByEndpoint(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at
		 FROM push_subscriptions WHERE endpoint = ?`, endpoint,
	).Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return &sub, nil
}

func (s *PushStore) ListSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at
		 FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) DeleteSubscription(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByEndpoint prunes a dead device, typically after the push service
// answered 410 Gone.
func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// ScheduleNotification upserts a registry row under its deterministic id.
// Re-scheduling the same identifier refreshes the row and resets it to
// pending, which makes duplicate schedule calls harmless.
func (s *PushStore) ScheduleNotification(ctx context.Context, n *model.ScheduledNotification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_notifications (id, reminder_id, user_id, title, body, fire_at, status, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO UPDATE SET
		   reminder_id = excluded.reminder_id,
		   user_id = excluded.user_id,
		   title = excluded.title,
		   body = excluded.body,
		   fire_at = excluded.fire_at,
		   status = excluded.status,
		   attempts = 0,
		   delivered_at = NULL`,
		n.ID, n.ReminderID, n.UserID, n.Title, n.Body, n.FireAt.UTC(), model.NotificationPending,
	)
	if err != nil {
		return fmt.Errorf("schedule notification: %w", err)
	}
	return nil
}

// CancelNotification marks a pending row cancelled. Unknown identifiers are
// a no-op, per the transport contract.
func (s *PushStore) CancelNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET status = ? WHERE id = ? AND status = ?`,
		model.NotificationCancelled, id, model.NotificationPending,
	)
	if err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}
	return nil
}

// ListPending returns every pending registry row, ordered by fire time.
func (s *PushStore) ListPending(ctx context.Context) ([]*model.ScheduledNotification, error) {
	return s.listByStatus(ctx,
		`SELECT id, reminder_id, user_id, title, body, fire_at, status, attempts, created_at, delivered_at
		 FROM scheduled_notifications WHERE status = ? ORDER BY fire_at`,
		model.NotificationPending)
}

// DuePending returns pending rows whose fire time has arrived.
func (s *PushStore) DuePending(ctx context.Context, now time.Time) ([]*model.ScheduledNotification, error) {
	return s.listByStatus(ctx,
		`SELECT id, reminder_id, user_id, title, body, fire_at, status, attempts, created_at, delivered_at
		 FROM scheduled_notifications WHERE status = ? AND fire_at <= ? ORDER BY fire_at`,
		model.NotificationPending, now.UTC())
}

func (s *PushStore) listByStatus(ctx context.Context, query string, args ...any) ([]*model.ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.ScheduledNotification
	for rows.Next() {
		var n model.ScheduledNotification
		var delivered sql.NullTime
		if err := rows.Scan(&n.ID, &n.ReminderID, &n.UserID, &n.Title, &n.Body, &n.FireAt, &n.Status, &n.Attempts, &n.CreatedAt, &delivered); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if delivered.Valid {
			at := delivered.Time
			n.DeliveredAt = &at
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkDelivered finishes a row. Delivered rows are kept for dedup and audit
// until pruned.
func (s *PushStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET status = ?, delivered_at = ? WHERE id = ?`,
		model.NotificationDelivered, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the delivery attempt counter after a transient
// send failure.
func (s *PushStore) IncrementAttempts(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment notification attempts: %w", err)
	}
	return nil
}

// PruneFinished deletes delivered and cancelled rows created before the
// cutoff, returning how many were removed. Run nightly.
func (s *PushStore) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_notifications WHERE status IN (?, ?) AND created_at < ?`,
		model.NotificationDelivered, model.NotificationCancelled, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune notifications: %w", err)
	}
	return n, nil
}
