package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

const (
	dispatchInterval = 30 * time.Second
	maxRetryDuration = 20 * time.Second
	maxAttempts      = 10
)

// sender abstracts Service for dispatcher tests.
type sender interface {
	Send(sub *model.PushSubscription, n *model.ScheduledNotification) error
}

// Dispatcher polls the registry for due notifications and pushes each to
// every registered device of the target user. Transient send failures are
// retried with exponential backoff within one tick and the row stays
// pending for the next tick; after maxAttempts the row is abandoned as
// delivered to stop an unreachable endpoint from looping forever.
type Dispatcher struct {
	mu       sync.RWMutex
	service  sender
	store    *store.PushStore
	clk      clock.Clock
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewDispatcher(svc sender, ps *store.PushStore, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		service:  svc,
		store:    ps,
		clk:      clk,
		logger:   logger,
		interval: dispatchInterval,
	}
}

// SetInterval overrides the polling interval. Test hook.
func (d *Dispatcher) SetInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interval = interval
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	interval := d.interval
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick delivers everything currently due. Exported so tests and manual
// triggers can run one pass without the loop.
func (d *Dispatcher) Tick(ctx context.Context) {
	due, err := d.store.DuePending(ctx, d.clk.Now())
	if err != nil {
		d.logger.Error("list due notifications", "error", err)
		return
	}

	for _, n := range due {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.ScheduledNotification) {
	subs, err := d.store.ListSubscriptions(ctx, n.UserID)
	if err != nil {
		d.logger.Error("list subscriptions", "user_id", n.UserID, "error", err)
		return
	}
	if len(subs) == 0 {
		// Nobody to deliver to; mark done rather than retrying forever.
		d.finish(ctx, n)
		return
	}

	delivered := 0
	for i := range subs {
		sub := &subs[i]
		err := d.sendWithRetry(ctx, sub, n)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrExpired):
			if err := d.store.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				d.logger.Error("prune expired subscription", "error", err)
			} else {
				d.logger.Info("pruned expired subscription", "user_id", n.UserID, "device", sub.DeviceName)
			}
		default:
			d.logger.Warn("push send failed", "notification_id", n.ID, "error", err)
		}
	}

	if delivered > 0 {
		d.finish(ctx, n)
		return
	}

	if err := d.store.IncrementAttempts(ctx, n.ID); err != nil {
		d.logger.Error("increment attempts", "notification_id", n.ID, "error", err)
		return
	}
	if n.Attempts+1 >= maxAttempts {
		d.logger.Warn("abandoning undeliverable notification", "notification_id", n.ID, "attempts", n.Attempts+1)
		d.finish(ctx, n)
	}
}

// sendWithRetry retries recoverable failures with exponential backoff,
// capped so one stubborn endpoint cannot stall the whole tick. The service
// classifies failures; only notify.ErrUnavailable is worth another attempt.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sub *model.PushSubscription, n *model.ScheduledNotification) error {
	backoff := retry.WithMaxDuration(maxRetryDuration, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.service.Send(sub, n)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, notify.ErrUnavailable):
			return retry.RetryableError(fmt.Errorf("send to %s: %w", sub.DeviceName, err))
		default:
			// Expired subscriptions and hard rejections are final.
			return err
		}
	})
}

func (d *Dispatcher) finish(ctx context.Context, n *model.ScheduledNotification) {
	if err := d.store.MarkDelivered(ctx, n.ID, d.clk.Now()); err != nil {
		d.logger.Error("mark delivered", "notification_id", n.ID, "error", err)
	}
}
