// Package store persists judgement requests and the scanner's block cursor.
package store

import (
	"context"
	"sort"
	"sync"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	"registrar/pkg/platform/sentinel"
	"registrar/pkg/requestcontext"
)

// InMemoryStore keeps requests and cursors in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.JudgementRequest
	order    []id.RequestID
	cursors  map[string]uint64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.RequestID]*models.JudgementRequest),
		cursors:  make(map[string]uint64),
	}
}

// Insert stores r unconditionally, assigning an ID when missing.
func (s *InMemoryStore) Insert(_ context.Context, r *models.JudgementRequest) (id.RequestID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(r)
}

// InsertIfNoActive stores r unless an active request exists for the same
// account and registrar. Returns false when r was not stored.
func (s *InMemoryStore) InsertIfNoActive(_ context.Context, r *models.JudgementRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := models.ActiveFor(r.Account, r.RegistrarIndex)
	for _, existing := range s.requests {
		if active.Matches(existing) {
			return false, nil
		}
	}
	if _, err := s.insertLocked(r); err != nil {
		return false, err
	}
	return true, nil
}

func (s *InMemoryStore) insertLocked(r *models.JudgementRequest) (id.RequestID, error) {
	if r.ID.IsNil() {
		r.ID = id.NewRequestID()
	}
	if _, exists := s.requests[r.ID]; exists {
		return id.RequestID{}, sentinel.ErrConflict
	}
	s.requests[r.ID] = r.Clone()
	s.order = append(s.order, r.ID)
	return r.ID, nil
}

// Query returns clones of matching requests, oldest first.
func (s *InMemoryStore) Query(_ context.Context, p models.Predicate) ([]*models.JudgementRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.JudgementRequest
	for _, rid := range s.order {
		r := s.requests[rid]
		if p.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.RequestID) (*models.JudgementRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// UpdateByID overwrites the supplied fields. Last write wins per field.
func (s *InMemoryStore) UpdateByID(ctx context.Context, requestID id.RequestID, upd models.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	r.Apply(stamp(ctx, upd))
	return nil
}

// UpdateIf applies upd only when the stored request still matches cond.
func (s *InMemoryStore) UpdateIf(ctx context.Context, requestID id.RequestID, cond models.Predicate, upd models.Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if !cond.Matches(r) {
		return false, nil
	}
	r.Apply(stamp(ctx, upd))
	return true, nil
}

func (s *InMemoryStore) Cursor(_ context.Context, chain string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.cursors[chain]
	return h, ok, nil
}

// SetCursor records height; a lower or equal height is ignored.
func (s *InMemoryStore) SetCursor(_ context.Context, chain string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cursors[chain]; ok && height <= cur {
		return nil
	}
	s.cursors[chain] = height
	return nil
}

func stamp(ctx context.Context, upd models.Update) models.Update {
	if upd.UpdatedAt.IsZero() {
		upd.UpdatedAt = requestcontext.Now(ctx)
	}
	return upd
}
