package notify

import (
	"context"
	"sort"
	"sync"
)

// MemTransport is an in-memory Transport for tests. Failures are injected
// per identifier (or per call for ListScheduled), mimicking a flaky external
// delivery service.
type MemTransport struct {
	mu      sync.Mutex
	entries map[string]Scheduled

	failSchedule map[string]error
	failCancel   map[string]error
	failList     error

	ScheduleCalls int
	CancelCalls   int
	ListCalls     int
}

func NewMemTransport() *MemTransport {
	return &MemTransport{
		entries:      make(map[string]Scheduled),
		failSchedule: make(map[string]error),
		failCancel:   make(map[string]error),
	}
}

// FailSchedule makes Schedule for the given identifier return err.
func (t *MemTransport) FailSchedule(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSchedule[id] = err
}

// FailCancel makes Cancel for the given identifier return err.
func (t *MemTransport) FailCancel(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCancel[id] = err
}

// FailList makes every ListScheduled call return err until reset with nil.
func (t *MemTransport) FailList(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failList = err
}

func (t *MemTransport) Schedule(ctx context.Context, req Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ScheduleCalls++
	if err := t.failSchedule[req.ID]; err != nil {
		return err
	}
	t.entries[req.ID] = req.scheduled()
	return nil
}

func (t *MemTransport) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CancelCalls++
	if err := t.failCancel[id]; err != nil {
		return err
	}
	delete(t.entries, id)
	return nil
}

func (t *MemTransport) ListScheduled(ctx context.Context) ([]Scheduled, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ListCalls++
	if t.failList != nil {
		return nil, t.failList
	}
	out := make([]Scheduled, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Entry returns the registered entry for id, if any.
func (t *MemTransport) Entry(id string) (Scheduled, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

// Len returns the number of registered entries.
func (t *MemTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Put registers an entry directly, bypassing failure injection. Used to
// seed stale state.
func (t *MemTransport) Put(e Scheduled) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.ID] = e
}
