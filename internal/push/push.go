package push

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
)

// ErrExpired reports a subscription the push service no longer recognizes.
// The caller prunes the device; the error is permanent, never retried.
var ErrExpired = errors.New("push subscription expired")

const (
	subscriber = "mailto:noreply@clueme.app"
	// payloadTTL is how long, in seconds, the push service may hold an
	// undelivered message before discarding it.
	payloadTTL = 86400
)

// payload is the JSON the service worker receives. URL is the client-side
// route opened on tap; Tag collapses redeliveries of the same registry row
// into one displayed notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Service delivers registry rows to devices over the Web Push protocol. It
// owns the delivery contract: every failure is classified as ErrExpired
// (drop the device), notify.ErrUnavailable (worth retrying), or a permanent
// rejection.
type Service struct {
	publicKey  string
	privateKey string
}

// NewService creates a push service with VAPID keys.
func NewService(publicKey, privateKey string) *Service {
	return &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
	}
}

// VAPIDPublicKey returns the public half for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

// Send pushes one registry row to one device.
func (s *Service) Send(sub *model.PushSubscription, n *model.ScheduledNotification) error {
	data, err := json.Marshal(payload{
		Title: n.Title,
		Body:  n.Body,
		URL:   clickTarget(n),
		Tag:   n.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      subscriber,
		TTL:             payloadTTL,
	})
	if err != nil {
		// Transport-level failure; the endpoint may come back.
		return fmt.Errorf("%w: send push: %v", notify.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps a push service reply onto the delivery contract.
func classifyStatus(code int) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrExpired
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: push service returned %d", notify.ErrUnavailable, code)
	default:
		return fmt.Errorf("push service returned %d", code)
	}
}

// clickTarget picks the client route the notification opens: the reminder
// itself when the row references one, the settings page for probe pushes.
func clickTarget(n *model.ScheduledNotification) string {
	if n.ReminderID == "" {
		return "/settings"
	}
	return "/reminders/" + n.ReminderID
}

// GenerateVAPIDKeys mints a base64url-encoded ECDSA P-256 pair for the
// CLUEME_VAPID_* settings.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	return publicKey, privateKey, nil
}
