package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

// SQLite is the local backend over database/sql. It does not own the
// *sql.DB; Close releases feed subscriptions only.
type SQLite struct {
	db       *sql.DB
	notifier *notifier
}

func NewSQLite(db *sql.DB) *SQLite {
	s := &SQLite{db: db}
	s.notifier = newNotifier(s.firstPage)
	return s
}

const reminderCols = `id, owner_id, family_id, title, description, due_date, due_time, timezone,
	recurrence_rule, anchor_date, sequence, state, assigned_to, notify_enabled, notify_offsets,
	completed_by, completed_at, version, created_at, updated_at`

func (s *SQLite) CreateReminder(ctx context.Context, r *model.Reminder) (*model.Reminder, error) {
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

	assigned, err := marshalStrings(rec.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("encode assigned_to: %w", err)
	}
	offsets, err := marshalInts(rec.Notify.OffsetMinutes)
	if err != nil {
		return nil, fmt.Errorf("encode notify_offsets: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, owner_id, family_id, title, description, due_date, due_time, timezone,
		 recurrence_rule, anchor_date, sequence, state, assigned_to, notify_enabled, notify_offsets,
		 completed_by, completed_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		rec.ID, rec.OwnerID, rec.FamilyID, rec.Title, rec.Description, rec.DueDate, rec.DueTime,
		rec.Timezone, rec.RecurrenceRule, rec.AnchorDate, rec.Sequence, rec.State,
		assigned, boolInt(rec.Notify.Enabled), offsets, rec.CompletedBy, nullTime(rec.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}

	created, err := s.GetReminder(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.publish(ctx, rec.OwnerID, rec.FamilyID)
	return created, nil
}

func (s *SQLite) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)

	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder: %w", err)
	}
	return r, nil
}

func (s *SQLite) UpdateReminder(ctx context.Context, id string, version int64, upd ReminderUpdate) (*model.Reminder, error) {
	cur, err := s.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if cur.Version != version {
		return nil, ErrConflict
	}

	next := cur.Clone()
	applyUpdate(next, upd)

	assigned, err := marshalStrings(next.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("encode assigned_to: %w", err)
	}
	offsets, err := marshalInts(next.Notify.OffsetMinutes)
	if err != nil {
		return nil, fmt.Errorf("encode notify_offsets: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET title = ?, description = ?, due_date = ?, due_time = ?, timezone = ?,
		 recurrence_rule = ?, anchor_date = ?, sequence = ?, state = ?, assigned_to = ?,
		 notify_enabled = ?, notify_offsets = ?, completed_by = ?, completed_at = ?,
		 version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		next.Title, next.Description, next.DueDate, next.DueTime, next.Timezone,
		next.RecurrenceRule, next.AnchorDate, next.Sequence, next.State, assigned,
		boolInt(next.Notify.Enabled), offsets, next.CompletedBy, nullTime(next.CompletedAt),
		id, version,
	)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Lost a race since the read above.
		again, err := s.GetReminder(ctx, id)
		if err != nil {
			return nil, err
		}
		if again == nil {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}

	updated, err := s.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notifier.publish(ctx, updated.OwnerID, updated.FamilyID)
	return updated, nil
}

func (s *SQLite) DeleteReminder(ctx context.Context, id string) error {
	cur, err := s.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.notifier.publish(ctx, cur.OwnerID, cur.FamilyID)
	return nil
}

func (s *SQLite) QueryReminders(ctx context.Context, q ReminderQuery) (*ReminderPage, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE owner_id = ? OR (family_id <> '' AND family_id = ?)
		 ORDER BY due_date ASC, due_time ASC, id ASC
		 LIMIT ? OFFSET ?`,
		q.OwnerID, q.FamilyID, q.PageSize+1, q.Page*q.PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var out []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}

	hasMore := len(out) > q.PageSize
	if hasMore {
		out = out[:q.PageSize]
	}
	return &ReminderPage{Reminders: out, Page: q.Page, HasMore: hasMore}, nil
}

func (s *SQLite) SubscribeReminders(ctx context.Context, f Filter) (*Feed, error) {
	return s.notifier.subscribe(ctx, f)
}

func (s *SQLite) firstPage(ctx context.Context, f Filter) ([]*model.Reminder, error) {
	page, err := s.QueryReminders(ctx, ReminderQuery{
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

func (s *SQLite) CreateFamily(ctx context.Context, fam *model.Family) (*model.Family, error) {
	f := *fam
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO families (id, name, owner_id) VALUES (?, ?, ?)`,
		f.ID, f.Name, f.OwnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	return s.GetFamily(ctx, f.ID)
}

func (s *SQLite) GetFamily(ctx context.Context, id string) (*model.Family, error) {
	var f model.Family
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at, updated_at FROM families WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.OwnerID, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query family: %w", err)
	}
	return &f, nil
}

func (s *SQLite) DeleteFamily(ctx context.Context, id string) error {
	// Members go first; the schema cascade only fires when the
	// foreign_keys pragma is on for the connection.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM family_members WHERE family_id = ?`, id); err != nil {
		return fmt.Errorf("delete family members: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AddMember(ctx context.Context, m *model.FamilyMember) (*model.FamilyMember, error) {
	v := *m
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Role == "" {
		v.Role = model.RoleMember
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO family_members (id, family_id, user_id, name, role, color)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.FamilyID, v.UserID, v.Name, v.Role, v.Color,
	)
	if err != nil {
		return nil, fmt.Errorf("insert family member: %w", err)
	}

	var out model.FamilyMember
	err = s.db.QueryRowContext(ctx,
		`SELECT id, family_id, user_id, name, role, color, created_at, updated_at
		 FROM family_members WHERE id = ?`, v.ID,
	).Scan(&out.ID, &out.FamilyID, &out.UserID, &out.Name, &out.Role, &out.Color, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("query family member: %w", err)
	}
	return &out, nil
}

func (s *SQLite) ListMembers(ctx context.Context, familyID string) ([]*model.FamilyMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, family_id, user_id, name, role, color, created_at, updated_at
		 FROM family_members WHERE family_id = ? ORDER BY name ASC`, familyID)
	if err != nil {
		return nil, fmt.Errorf("query family members: %w", err)
	}
	defer rows.Close()

	var out []*model.FamilyMember
	for rows.Next() {
		var m model.FamilyMember
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Name, &m.Role, &m.Color, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate family members: %w", err)
	}
	return out, nil
}

func (s *SQLite) RemoveMember(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM family_members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete family member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) FamilyForUser(ctx context.Context, userID string) (*model.Family, error) {
	var f model.Family
	err := s.db.QueryRowContext(ctx,
		`SELECT f.id, f.name, f.owner_id, f.created_at, f.updated_at
		 FROM families f
		 JOIN family_members m ON m.family_id = f.id
		 WHERE m.user_id = ?
		 ORDER BY m.created_at ASC
		 LIMIT 1`, userID,
	).Scan(&f.ID, &f.Name, &f.OwnerID, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query family for user: %w", err)
	}
	return &f, nil
}

func (s *SQLite) Close() error {
	s.notifier.closeAll()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*model.Reminder, error) {
	var r model.Reminder
	var assigned, offsets string
	var notifyEnabled int
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.OwnerID, &r.FamilyID, &r.Title, &r.Description, &r.DueDate,
		&r.DueTime, &r.Timezone, &r.RecurrenceRule, &r.AnchorDate, &r.Sequence, &r.State,
		&assigned, &notifyEnabled, &offsets, &r.CompletedBy, &completedAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(assigned), &r.AssignedTo); err != nil {
		return nil, fmt.Errorf("decode assigned_to: %w", err)
	}
	if err := json.Unmarshal([]byte(offsets), &r.Notify.OffsetMinutes); err != nil {
		return nil, fmt.Errorf("decode notify_offsets: %w", err)
	}
	r.Notify.Enabled = notifyEnabled != 0
	if completedAt.Valid {
		at := completedAt.Time
		r.CompletedAt = &at
	}
	return &r, nil
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func marshalInts(v []int) (string, error) {
	if v == nil {
		v = []int{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
