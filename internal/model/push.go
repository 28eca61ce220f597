package model

import "time"

type PushSubscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Scheduled notification delivery states. Delivered and cancelled rows are
// kept for dedup and audit until pruned.
const (
	NotificationPending   = "pending"
	NotificationDelivered = "delivered"
	NotificationCancelled = "cancelled"
)

type ScheduledNotification struct {
	ID          string     `json:"id"` // deterministic, prefixed by reminder id
	ReminderID  string     `json:"reminder_id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	FireAt      time.Time  `json:"fire_at"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
