// Package memory provides in-process implementations of the store contracts.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

const changeBuffer = 64

// BatchStore keeps batch records in a map guarded by a RWMutex.
type BatchStore struct {
	mu          sync.RWMutex
	records     map[string]models.BatchRecord
	subscribers map[int]*subscriber
	nextSub     int
	now         func() time.Time
}

// NewBatchStore returns an empty store.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		records:     make(map[string]models.BatchRecord),
		subscribers: make(map[int]*subscriber),
		now:         time.Now,
	}
}

func (s *BatchStore) Create(ctx context.Context, rec models.BatchRecord) (models.BatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.BatchRecord{}, err
	}
	s.mu.Lock()
	for _, existing := range s.records {
		if existing.BatchNumber == rec.BatchNumber {
			s.mu.Unlock()
			return models.BatchRecord{}, store.ErrDuplicate
		}
	}
	rec.ID = uuid.NewString()
	rec.Version = 1
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()

	s.publish(rec)
	return rec.Clone(), nil
}

func (s *BatchStore) Get(ctx context.Context, id string) (models.BatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.BatchRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return models.BatchRecord{}, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *BatchStore) Find(ctx context.Context, f store.Filter) ([]models.BatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := []models.BatchRecord{}
	for _, rec := range s.records {
		if f.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmissionDate.Equal(out[j].SubmissionDate) {
			return out[i].SubmissionDate.After(out[j].SubmissionDate)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *BatchStore) Update(ctx context.Context, id string, expectedVersion int64, m store.Mutation) (models.BatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.BatchRecord{}, err
	}
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return models.BatchRecord{}, store.ErrNotFound
	}
	if rec.Version != expectedVersion {
		s.mu.Unlock()
		return models.BatchRecord{}, store.ErrVersionConflict
	}
	rec = rec.Clone()
	rec.Status = m.Status
	rec.ShipmentStatus = m.ShipmentStatus
	rec.Version++
	rec.UpdatedAt = m.Event.At
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	rec.History = append(rec.History, m.Event)
	s.records[id] = rec
	s.mu.Unlock()

	s.publish(rec)
	return rec.Clone(), nil
}

// Changes registers a subscriber. Writers never wait on a slow subscriber:
// changes it has not read yet are merged per record, so it always receives
// the latest state of every record written since its last read.
func (s *BatchStore) Changes(ctx context.Context) (<-chan models.BatchRecord, error) {
	sub := &subscriber{pending: make(map[string]models.BatchRecord), wake: make(chan struct{}, 1)}
	ch := make(chan models.BatchRecord, changeBuffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = sub
	s.mu.Unlock()

	go func() {
		defer close(ch)
		defer func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.wake:
			}
			for _, rec := range sub.take() {
				select {
				case ch <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *BatchStore) publish(rec models.BatchRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		sub.push(rec.Clone())
	}
}

// subscriber holds changes not yet handed to a Changes channel, at most one
// per record id.
type subscriber struct {
	mu      sync.Mutex
	pending map[string]models.BatchRecord
	order   []string
	wake    chan struct{}
}

func (sub *subscriber) push(rec models.BatchRecord) {
	sub.mu.Lock()
	if _, ok := sub.pending[rec.ID]; !ok {
		sub.order = append(sub.order, rec.ID)
	}
	sub.pending[rec.ID] = rec
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) take() []models.BatchRecord {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	out := make([]models.BatchRecord, 0, len(sub.order))
	for _, id := range sub.order {
		out = append(out, sub.pending[id])
	}
	clear(sub.pending)
	sub.order = sub.order[:0]
	return out
}

// UserStore keeps user profiles keyed by lower-cased email.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]models.User)}
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *UserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID.Hex() == id {
			return u, nil
		}
	}
	return models.User{}, store.ErrNotFound
}

func (s *UserStore) Insert(_ context.Context, u models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.users[key]; ok {
		return models.User{}, store.ErrDuplicate
	}
	u.ID = primitive.NewObjectID()
	s.users[key] = u
	return u, nil
}

func (s *UserStore) CountByRole(_ context.Context, role models.Role) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}
