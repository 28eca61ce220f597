package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/recurrence"
)

// Mongo is the hosted backend. Dates are stored as YYYY-MM-DD strings so
// lexicographic sort order matches chronological order; the change feed
// rides collection change streams, so the deployment must be a replica set.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Mongo{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.reminders().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "due_date", Value: 1}}},
		{Keys: bson.D{{Key: "family_id", Value: 1}, {Key: "due_date", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create reminder indexes: %w", err)
	}
	_, err = s.members().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create member index: %w", err)
	}
	return nil
}

func (s *Mongo) reminders() *mongo.Collection { return s.db.Collection("reminders") }
func (s *Mongo) families() *mongo.Collection  { return s.db.Collection("families") }
func (s *Mongo) members() *mongo.Collection   { return s.db.Collection("family_members") }

type reminderDoc struct {
	ID             string     `bson:"_id"`
	OwnerID        string     `bson:"owner_id"`
	FamilyID       string     `bson:"family_id"`
	Title          string     `bson:"title"`
	Description    string     `bson:"description"`
	DueDate        string     `bson:"due_date"`
	DueTime        string     `bson:"due_time"`
	Timezone       string     `bson:"timezone"`
	RecurrenceRule string     `bson:"recurrence_rule"`
	AnchorDate     string     `bson:"anchor_date"`
	Sequence       int        `bson:"sequence"`
	State          string     `bson:"state"`
	AssignedTo     []string   `bson:"assigned_to"`
	NotifyEnabled  bool       `bson:"notify_enabled"`
	NotifyOffsets  []int      `bson:"notify_offsets"`
	CompletedBy    string     `bson:"completed_by"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty"`
	Version        int64      `bson:"version"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toReminderDoc(r *model.Reminder) reminderDoc {
	return reminderDoc{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		FamilyID:       r.FamilyID,
		Title:          r.Title,
		Description:    r.Description,
		DueDate:        r.DueDate.String(),
		DueTime:        r.DueTime,
		Timezone:       r.Timezone,
		RecurrenceRule: r.RecurrenceRule,
		AnchorDate:     r.AnchorDate.String(),
		Sequence:       r.Sequence,
		State:          r.State,
		AssignedTo:     r.AssignedTo,
		NotifyEnabled:  r.Notify.Enabled,
		NotifyOffsets:  r.Notify.OffsetMinutes,
		CompletedBy:    r.CompletedBy,
		CompletedAt:    r.CompletedAt,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromReminderDoc(d reminderDoc) (*model.Reminder, error) {
	due, err := recurrence.ParseDate(d.DueDate)
	if err != nil {
		return nil, fmt.Errorf("decode due_date: %w", err)
	}
	anchor, err := recurrence.ParseDate(d.AnchorDate)
	if err != nil {
		return nil, fmt.Errorf("decode anchor_date: %w", err)
	}
	return &model.Reminder{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		FamilyID:       d.FamilyID,
		Title:          d.Title,
		Description:    d.Description,
		DueDate:        due,
		DueTime:        d.DueTime,
		Timezone:       d.Timezone,
		RecurrenceRule: d.RecurrenceRule,
		AnchorDate:     anchor,
		Sequence:       d.Sequence,
		State:          d.State,
		AssignedTo:     d.AssignedTo,
		Notify: model.NotificationPolicy{
			Enabled:       d.NotifyEnabled,
			OffsetMinutes: d.NotifyOffsets,
		},
		CompletedBy: d.CompletedBy,
		CompletedAt: d.CompletedAt,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func (s *Mongo) CreateReminder(ctx context.Context, r *model.Reminder) (*model.Reminder, error) {
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

	if _, err := s.reminders().InsertOne(ctx, toReminderDoc(rec)); err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return s.GetReminder(ctx, rec.ID)
}

func (s *Mongo) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	var doc reminderDoc
	err := s.reminders().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder: %w", err)
	}
	return fromReminderDoc(doc)
}

func (s *Mongo) UpdateReminder(ctx context.Context, id string, version int64, upd ReminderUpdate) (*model.Reminder, error) {
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
	next.Version = version + 1
	next.UpdatedAt = time.Now().UTC()

	res, err := s.reminders().ReplaceOne(ctx,
		bson.M{"_id": id, "version": version},
		toReminderDoc(next),
	)
	if err != nil {
		return nil, fmt.Errorf("replace reminder: %w", err)
	}
	if res.MatchedCount == 0 {
		again, err := s.GetReminder(ctx, id)
		if err != nil {
			return nil, err
		}
		if again == nil {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return next, nil
}

func (s *Mongo) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.reminders().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) QueryReminders(ctx context.Context, q ReminderQuery) (*ReminderPage, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	clauses := bson.A{bson.M{"owner_id": q.OwnerID}}
	if q.FamilyID != "" {
		clauses = append(clauses, bson.M{"family_id": q.FamilyID})
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "due_date", Value: 1}, {Key: "due_time", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(q.Page * q.PageSize)).
		SetLimit(int64(q.PageSize + 1))

	cursor, err := s.reminders().Find(ctx, bson.M{"$or": clauses}, opts)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*model.Reminder
	for cursor.Next(ctx) {
		var doc reminderDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode reminder: %w", err)
		}
		r, err := fromReminderDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}

	hasMore := len(out) > q.PageSize
	if hasMore {
		out = out[:q.PageSize]
	}
	return &ReminderPage{Reminders: out, Page: q.Page, HasMore: hasMore}, nil
}

func (s *Mongo) SubscribeReminders(ctx context.Context, f Filter) (*Feed, error) {
	stream, err := s.reminders().Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("watch reminders: %w", err)
	}

	ch := make(chan []*model.Reminder, 1)
	snap, err := s.firstPage(ctx, f)
	if err != nil {
		stream.Close(ctx)
		return nil, err
	}
	ch <- snap

	streamCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			snap, err := s.firstPage(streamCtx, f)
			if err != nil {
				continue
			}
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- snap:
				default:
				}
			}
		}
	}()

	return &Feed{C: ch, cancel: cancel}, nil
}

func (s *Mongo) firstPage(ctx context.Context, f Filter) ([]*model.Reminder, error) {
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

type familyDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	OwnerID   string    `bson:"owner_id"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type memberDoc struct {
	ID        string    `bson:"_id"`
	FamilyID  string    `bson:"family_id"`
	UserID    string    `bson:"user_id"`
	Name      string    `bson:"name"`
	Role      string    `bson:"role"`
	Color     string    `bson:"color"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (s *Mongo) CreateFamily(ctx context.Context, fam *model.Family) (*model.Family, error) {
	f := *fam
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	doc := familyDoc{ID: f.ID, Name: f.Name, OwnerID: f.OwnerID, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt}
	if _, err := s.families().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	return &f, nil
}

func (s *Mongo) GetFamily(ctx context.Context, id string) (*model.Family, error) {
	var doc familyDoc
	err := s.families().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query family: %w", err)
	}
	return &model.Family{ID: doc.ID, Name: doc.Name, OwnerID: doc.OwnerID, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt}, nil
}

func (s *Mongo) DeleteFamily(ctx context.Context, id string) error {
	res, err := s.families().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	if _, err := s.members().DeleteMany(ctx, bson.M{"family_id": id}); err != nil {
		return fmt.Errorf("delete family members: %w", err)
	}
	return nil
}

func (s *Mongo) AddMember(ctx context.Context, m *model.FamilyMember) (*model.FamilyMember, error) {
	v := *m
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Role == "" {
		v.Role = model.RoleMember
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	doc := memberDoc{ID: v.ID, FamilyID: v.FamilyID, UserID: v.UserID, Name: v.Name, Role: v.Role, Color: v.Color, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt}
	if _, err := s.members().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert family member: %w", err)
	}
	return &v, nil
}

func (s *Mongo) ListMembers(ctx context.Context, familyID string) ([]*model.FamilyMember, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.members().Find(ctx, bson.M{"family_id": familyID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query family members: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*model.FamilyMember
	for cursor.Next(ctx) {
		var doc memberDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode family member: %w", err)
		}
		out = append(out, &model.FamilyMember{
			ID: doc.ID, FamilyID: doc.FamilyID, UserID: doc.UserID,
			Name: doc.Name, Role: doc.Role, Color: doc.Color,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate family members: %w", err)
	}
	return out, nil
}

func (s *Mongo) RemoveMember(ctx context.Context, id string) error {
	res, err := s.members().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete family member: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) FamilyForUser(ctx context.Context, userID string) (*model.Family, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	var doc memberDoc
	err := s.members().FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	return s.GetFamily(ctx, doc.FamilyID)
}

func (s *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
