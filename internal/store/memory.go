package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

// Memory is the in-process backend: mutex-guarded maps plus the shared
// notifier. Zero-config default for development and the double behind most
// tests.
type Memory struct {
	mu        sync.RWMutex
	reminders map[string]*model.Reminder
	families  map[string]*model.Family
	members   map[string]*model.FamilyMember
	notifier  *notifier
}

func NewMemory() *Memory {
	m := &Memory{
		reminders: make(map[string]*model.Reminder),
		families:  make(map[string]*model.Family),
		members:   make(map[string]*model.FamilyMember),
	}
	m.notifier = newNotifier(m.firstPage)
	return m
}

func (m *Memory) CreateReminder(ctx context.Context, r *model.Reminder) (*model.Reminder, error) {
	rec := r.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.State == "" {
		rec.State = model.StateScheduled
	}
	if rec.Sequence == 0 {
		rec.Sequence = 1
	}
	rec.Version = 1
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	m.mu.Lock()
	m.reminders[rec.ID] = rec
	m.mu.Unlock()

	m.notifier.publish(ctx, rec.OwnerID, rec.FamilyID)
	return rec.Clone(), nil
}

func (m *Memory) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reminders[id].Clone(), nil
}

func (m *Memory) UpdateReminder(ctx context.Context, id string, version int64, upd ReminderUpdate) (*model.Reminder, error) {
	m.mu.Lock()
	cur, ok := m.reminders[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if cur.Version != version {
		m.mu.Unlock()
		return nil, ErrConflict
	}

	next := cur.Clone()
	applyUpdate(next, upd)
	next.Version = version + 1
	next.UpdatedAt = time.Now().UTC()
	m.reminders[id] = next
	m.mu.Unlock()

	m.notifier.publish(ctx, next.OwnerID, next.FamilyID)
	return next.Clone(), nil
}

func (m *Memory) DeleteReminder(ctx context.Context, id string) error {
	m.mu.Lock()
	cur, ok := m.reminders[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.reminders, id)
	m.mu.Unlock()

	m.notifier.publish(ctx, cur.OwnerID, cur.FamilyID)
	return nil
}

func (m *Memory) QueryReminders(ctx context.Context, q ReminderQuery) (*ReminderPage, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	m.mu.RLock()
	var visible []*model.Reminder
	for _, r := range m.reminders {
		if reminderVisible(r, q.OwnerID, q.FamilyID) {
			visible = append(visible, r)
		}
	}
	m.mu.RUnlock()

	sortReminders(visible)

	start := q.Page * q.PageSize
	if start >= len(visible) {
		return &ReminderPage{Reminders: nil, Page: q.Page, HasMore: false}, nil
	}
	end := start + q.PageSize
	hasMore := end < len(visible)
	if end > len(visible) {
		end = len(visible)
	}
	return &ReminderPage{
		Reminders: model.CloneReminders(visible[start:end]),
		Page:      q.Page,
		HasMore:   hasMore,
	}, nil
}

func (m *Memory) SubscribeReminders(ctx context.Context, f Filter) (*Feed, error) {
	return m.notifier.subscribe(ctx, f)
}

func (m *Memory) firstPage(ctx context.Context, f Filter) ([]*model.Reminder, error) {
	page, err := m.QueryReminders(ctx, ReminderQuery{
		OwnerID:  f.OwnerID,
		FamilyID: f.FamilyID,
		Page:     0,
		PageSize: DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}
	return page.Reminders, nil
}

func (m *Memory) CreateFamily(ctx context.Context, fam *model.Family) (*model.Family, error) {
	f := *fam
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	m.mu.Lock()
	m.families[f.ID] = &f
	m.mu.Unlock()

	out := f
	return &out, nil
}

func (m *Memory) GetFamily(ctx context.Context, id string) (*model.Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.families[id]
	if !ok {
		return nil, nil
	}
	out := *f
	return &out, nil
}

func (m *Memory) DeleteFamily(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.families[id]; !ok {
		return ErrNotFound
	}
	delete(m.families, id)
	for mid, mem := range m.members {
		if mem.FamilyID == id {
			delete(m.members, mid)
		}
	}
	return nil
}

func (m *Memory) AddMember(ctx context.Context, mem *model.FamilyMember) (*model.FamilyMember, error) {
	v := *mem
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Role == "" {
		v.Role = model.RoleMember
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	m.mu.Lock()
	m.members[v.ID] = &v
	m.mu.Unlock()

	out := v
	return &out, nil
}

func (m *Memory) ListMembers(ctx context.Context, familyID string) ([]*model.FamilyMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FamilyMember
	for _, mem := range m.members {
		if mem.FamilyID == familyID {
			v := *mem
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) RemoveMember(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[id]; !ok {
		return ErrNotFound
	}
	delete(m.members, id)
	return nil
}

func (m *Memory) FamilyForUser(ctx context.Context, userID string) (*model.Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mem := range m.members {
		if mem.UserID == userID {
			if f, ok := m.families[mem.FamilyID]; ok {
				out := *f
				return &out, nil
			}
		}
	}
	return nil, nil
}

func (m *Memory) Close() error {
	m.notifier.closeAll()
	return nil
}

func reminderVisible(r *model.Reminder, ownerID, familyID string) bool {
	if ownerID != "" && r.OwnerID == ownerID {
		return true
	}
	if familyID != "" && r.FamilyID == familyID {
		return true
	}
	return false
}

// sortReminders orders by due date, then due time (all-day entries first),
// then id for a stable tiebreak. Pagination depends on this order being
// total.
func sortReminders(rs []*model.Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if c := rs[i].DueDate.Compare(rs[j].DueDate); c != 0 {
			return c < 0
		}
		if rs[i].DueTime != rs[j].DueTime {
			return rs[i].DueTime < rs[j].DueTime
		}
		return rs[i].ID < rs[j].ID
	})
}
