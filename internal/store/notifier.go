package store

import (
	"context"
	"sync"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

// notifier fans committed writes out to feed subscriptions for backends
// without a native change stream. Every write publishes the affected
// (owner, family) pair; matching subscriptions re-query and receive a fresh
// first-page snapshot.
type notifier struct {
	mu    sync.Mutex
	subs  map[int]*feedSub
	next  int
	query func(ctx context.Context, f Filter) ([]*model.Reminder, error)
}

type feedSub struct {
	filter Filter
	mu     sync.Mutex
	closed bool
	ch     chan []*model.Reminder
}

func newNotifier(query func(ctx context.Context, f Filter) ([]*model.Reminder, error)) *notifier {
	return &notifier{
		subs:  make(map[int]*feedSub),
		query: query,
	}
}

func (n *notifier) subscribe(ctx context.Context, f Filter) (*Feed, error) {
	sub := &feedSub{
		filter: f,
		ch:     make(chan []*model.Reminder, 1),
	}

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = sub
	n.mu.Unlock()

	// Subscribers get the current state immediately, then deltas as they
	// happen.
	snap, err := n.query(ctx, f)
	if err != nil {
		n.remove(id)
		return nil, err
	}
	sub.push(snap)

	return &Feed{
		C: sub.ch,
		cancel: func() {
			n.remove(id)
		},
	}, nil
}

func (n *notifier) remove(id int) {
	n.mu.Lock()
	sub, ok := n.subs[id]
	if ok {
		delete(n.subs, id)
	}
	n.mu.Unlock()
	if ok {
		sub.close()
	}
}

// publish re-queries every subscription whose filter covers the written
// record and hands it the fresh snapshot. A failed re-query skips that
// subscriber; the next write or an on-demand read catches it up.
func (n *notifier) publish(ctx context.Context, ownerID, familyID string) {
	n.mu.Lock()
	matched := make([]*feedSub, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.covers(ownerID, familyID) {
			matched = append(matched, sub)
		}
	}
	n.mu.Unlock()

	for _, sub := range matched {
		snap, err := n.query(ctx, sub.filter)
		if err != nil {
			continue
		}
		sub.push(snap)
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[int]*feedSub)
	n.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (s *feedSub) covers(ownerID, familyID string) bool {
	if s.filter.OwnerID != "" && s.filter.OwnerID == ownerID {
		return true
	}
	if s.filter.FamilyID != "" && s.filter.FamilyID == familyID {
		return true
	}
	return false
}

// push delivers latest-wins: a full buffer drops the stale snapshot rather
// than blocking the writer.
func (s *feedSub) push(snap []*model.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}

func (s *feedSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
