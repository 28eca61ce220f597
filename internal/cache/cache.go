// Package cache keeps per-(user, family) snapshots of paginated reminder
// lists so list screens do not re-query the store on every render. Entries
// are replace-only: a concurrent reader always sees either the old or the
// new complete snapshot, never a partial update. Staleness is bounded by a
// TTL and by the store's change feed, which replaces cached pages wholesale
// as writes land.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/timing"
)

// DefaultTTL bounds how stale a cached page may get before the next read
// goes back to the store.
const DefaultTTL = 30 * time.Second

// slowReadThreshold flags store reads worth a warning.
const slowReadThreshold = 500 * time.Millisecond

// Source is the slice of the document store the cache reads from.
type Source interface {
	QueryReminders(ctx context.Context, q store.ReminderQuery) (*store.ReminderPage, error)
	SubscribeReminders(ctx context.Context, f store.Filter) (*store.Feed, error)
}

// Page is what readers get back: an immutable snapshot plus pagination
// state.
type Page struct {
	Items   []*model.Reminder
	Page    int
	HasMore bool
}

type key struct {
	userID   string
	familyID string
	page     int
}

type entry struct {
	items      []*model.Reminder
	hasMore    bool
	insertedAt time.Time
}

// Subscription is a live-update handle. C carries fresh first-page
// snapshots; Cancel unregisters deterministically and closes C. Feeds are
// not restartable; resubscribe instead.
type Subscription struct {
	C      <-chan []*model.Reminder
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Cache is explicitly constructed and disposed; there is no package-global
// instance, so tests can run isolated caches side by side.
type Cache struct {
	src    Source
	clk    clock.Clock
	logger *slog.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[key]*entry
	closed  bool

	subMu sync.Mutex
	subs  map[int]*Subscription
	nextS int
}

// New builds a cache over src. ttl <= 0 selects DefaultTTL.
func New(src Source, clk clock.Clock, logger *slog.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		src:     src,
		clk:     clk,
		logger:  logger,
		ttl:     ttl,
		entries: make(map[key]*entry),
		subs:    make(map[int]*Subscription),
	}
}

// Get returns one page of the user's reminder list. A fresh cached entry is
// served as-is; a miss, a stale entry, or bypass=true queries the store and
// caches the result. Store errors surface to the caller and leave the cache
// untouched, so a later read retries cleanly.
func (c *Cache) Get(ctx context.Context, userID, familyID string, page int, bypass bool) (*Page, error) {
	k := key{userID: userID, familyID: familyID, page: page}

	if !bypass {
		if e := c.lookup(k); e != nil {
			return &Page{
				Items:   model.CloneReminders(e.items),
				Page:    page,
				HasMore: e.hasMore,
			}, nil
		}
	}

	result, dur, err := timing.Measure(func() (*store.ReminderPage, error) {
		return c.src.QueryReminders(ctx, store.ReminderQuery{
			OwnerID:  userID,
			FamilyID: familyID,
			Page:     page,
			PageSize: store.DefaultPageSize,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query reminder page: %w", err)
	}
	if dur > slowReadThreshold {
		c.logger.Warn("slow reminder page read", "user_id", userID, "page", page, "duration", dur)
	} else {
		c.logger.Debug("reminder page read", "user_id", userID, "page", page, "duration", dur)
	}

	c.insert(k, result.Reminders, result.HasMore)
	return &Page{
		Items:   model.CloneReminders(result.Reminders),
		Page:    page,
		HasMore: result.HasMore,
	}, nil
}

// Invalidate drops every cached page for the user, across all of their
// family keys. Any lifecycle transition on a reminder the user can see must
// invalidate; a page-0-only drop would leave deeper pages lying about
// membership changes.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.userID == userID {
			delete(c.entries, k)
		}
	}
}

// InvalidateFamily drops every cached page keyed under the family,
// regardless of which member cached it.
func (c *Cache) InvalidateFamily(familyID string) {
	if familyID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.familyID == familyID {
			delete(c.entries, k)
		}
	}
}

// SubscribeLive attaches to the store's change feed for the (user, family)
// pair. Each feed snapshot replaces the pair's cached pages wholesale
// (page 0 becomes the snapshot, deeper pages are dropped) and is forwarded
// on the subscription channel. Last writer wins at the snapshot level; the
// store stays the single source of truth.
func (c *Cache) SubscribeLive(ctx context.Context, userID, familyID string) (*Subscription, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("subscribe live: cache is closed")
	}

	feed, err := c.src.SubscribeReminders(ctx, store.Filter{OwnerID: userID, FamilyID: familyID})
	if err != nil {
		return nil, fmt.Errorf("subscribe reminders: %w", err)
	}

	out := make(chan []*model.Reminder, 1)
	sub := &Subscription{C: out}
	sub.cancel = feed.Cancel

	c.subMu.Lock()
	id := c.nextS
	c.nextS++
	c.subs[id] = sub
	c.subMu.Unlock()

	go func() {
		defer func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(out)
		}()
		for snap := range feed.C {
			c.replacePages(userID, familyID, snap)
			// Latest-wins delivery; a slow consumer skips intermediate
			// snapshots rather than blocking the feed.
			select {
			case out <- snap:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- snap:
				default:
				}
			}
		}
	}()

	return sub, nil
}

// Close cancels live subscriptions and drops all entries. The cache is
// unusable for subscriptions afterwards; reads degrade to store queries.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.entries = make(map[key]*entry)
	c.mu.Unlock()

	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (c *Cache) lookup(k key) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	if !ok {
		return nil
	}
	if c.clk.Now().Sub(e.insertedAt) >= c.ttl {
		return nil
	}
	return e
}

func (c *Cache) insert(k key, items []*model.Reminder, hasMore bool) {
	e := &entry{
		items:      model.CloneReminders(items),
		hasMore:    hasMore,
		insertedAt: c.clk.Now(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.entries[k] = e
}

// replacePages installs a feed snapshot as the pair's page 0 and drops the
// deeper pages, whose offsets the snapshot invalidated.
func (c *Cache) replacePages(userID, familyID string, snap []*model.Reminder) {
	e := &entry{
		items:      model.CloneReminders(snap),
		hasMore:    len(snap) >= store.DefaultPageSize,
		insertedAt: c.clk.Now(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for k := range c.entries {
		if k.userID == userID && k.familyID == familyID {
			delete(c.entries, k)
		}
	}
	c.entries[key{userID: userID, familyID: familyID, page: 0}] = e
}
