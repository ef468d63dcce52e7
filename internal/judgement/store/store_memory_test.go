package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	"registrar/pkg/platform/sentinel"
	"registrar/pkg/testutil"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = testutil.Context(s.now)
}

func (s *InMemoryStoreSuite) newRequest(account string, fields models.IdentityFields) *models.JudgementRequest {
	r, err := models.NewJudgementRequest(id.NewRequestID(), account, 0, fields, "nonce-"+account, s.now)
	s.Require().NoError(err)
	return r
}

func (s *InMemoryStoreSuite) TestInsertAndFind() {
	r := s.newRequest("alice", models.IdentityFields{Email: "alice@example.com"})
	rid, err := s.store.Insert(s.ctx, r)
	s.Require().NoError(err)
	s.Equal(r.ID, rid)

	got, err := s.store.FindByID(s.ctx, rid)
	s.Require().NoError(err)
	s.Equal("alice@example.com", got.Email)

	s.Run("returned value is a copy", func() {
		got.Status = models.RequestStatusCancelled
		again, err := s.store.FindByID(s.ctx, rid)
		s.Require().NoError(err)
		s.Equal(models.RequestStatusActive, again.Status)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, id.NewRequestID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestInsertIfNoActive() {
	first := s.newRequest("bob", models.IdentityFields{Social: "bob"})
	ok, err := s.store.InsertIfNoActive(s.ctx, first)
	s.Require().NoError(err)
	s.True(ok)

	s.Run("second active insert is refused", func() {
		ok, err := s.store.InsertIfNoActive(s.ctx, s.newRequest("bob", models.IdentityFields{Social: "bob"}))
		s.Require().NoError(err)
		s.False(ok)
		all, err := s.store.Query(s.ctx, models.Eq(models.FieldAccount, "bob"))
		s.Require().NoError(err)
		s.Len(all, 1)
	})

	s.Run("insert allowed after cancellation", func() {
		s.Require().NoError(s.store.UpdateByID(s.ctx, first.ID, models.SetStatus(models.RequestStatusCancelled, s.now)))
		ok, err := s.store.InsertIfNoActive(s.ctx, s.newRequest("bob", models.IdentityFields{Social: "bob"}))
		s.Require().NoError(err)
		s.True(ok)
	})
}

func (s *InMemoryStoreSuite) TestInsertIfNoActive_Concurrent() {
	const goroutines = 30
	var wg sync.WaitGroup
	var wins atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := models.NewJudgementRequest(id.NewRequestID(), "carol", 0, models.IdentityFields{Email: "c@x.io"}, "n", s.now)
			if err != nil {
				return
			}
			if ok, err := s.store.InsertIfNoActive(s.ctx, r); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *InMemoryStoreSuite) TestUpdateIf() {
	r := s.newRequest("dave", models.IdentityFields{Email: "d@x.io"})
	_, err := s.store.Insert(s.ctx, r)
	s.Require().NoError(err)

	notTerminal := models.And(
		models.Eq(models.FieldStatus, models.RequestStatusActive),
		models.Or(
			models.IsNull(models.FieldEmailStatus),
			models.Eq(models.FieldEmailStatus, models.ChannelStatusPending),
		),
	)

	later := s.now.Add(time.Minute)
	ok, err := s.store.UpdateIf(s.ctx, r.ID, notTerminal, models.SetChannel(models.ChannelEmail, models.ChannelStatusVerifiedSuccess, later))
	s.Require().NoError(err)
	s.True(ok)

	s.Run("terminal channel no longer matches", func() {
		ok, err := s.store.UpdateIf(s.ctx, r.ID, notTerminal, models.SetChannel(models.ChannelEmail, models.ChannelStatusVerifiedFailed, later))
		s.Require().NoError(err)
		s.False(ok)
		got, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.ChannelStatusVerifiedSuccess, got.EmailStatus)
		s.Equal(later, got.UpdatedAt)
	})

	s.Run("missing row reports not found", func() {
		_, err := s.store.UpdateIf(s.ctx, id.NewRequestID(), notTerminal, models.Update{})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestUpdateStampsContextTime() {
	a := s.newRequest("erin", models.IdentityFields{Email: "e@x.io"})
	b := s.newRequest("frank", models.IdentityFields{Email: "f@x.io"})
	for _, r := range []*models.JudgementRequest{a, b} {
		_, err := s.store.Insert(s.ctx, r)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.store.UpdateByID(s.ctx, a.ID, models.SetStatus(models.RequestStatusCancelled, time.Time{})))

	got, err := s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusCancelled, got.Status)
	s.Equal(s.now, got.UpdatedAt, "zero UpdatedAt is stamped from context time")

	other, err := s.store.FindByID(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusActive, other.Status)
}

func (s *InMemoryStoreSuite) TestQueryOrdersByCreation() {
	late := s.newRequest("gina", models.IdentityFields{Email: "g@x.io"})
	late.CreatedAt = s.now.Add(time.Hour)
	early := s.newRequest("hank", models.IdentityFields{Email: "h@x.io"})
	for _, r := range []*models.JudgementRequest{late, early} {
		_, err := s.store.Insert(s.ctx, r)
		s.Require().NoError(err)
	}
	all, err := s.store.Query(s.ctx, models.And())
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("hank", all[0].Account)
	s.Equal("gina", all[1].Account)
}

func (s *InMemoryStoreSuite) TestCursorMonotonic() {
	_, found, err := s.store.Cursor(s.ctx, "kusama")
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.store.SetCursor(s.ctx, "kusama", 100))
	s.Require().NoError(s.store.SetCursor(s.ctx, "kusama", 99))

	h, found, err := s.store.Cursor(s.ctx, "kusama")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(uint64(100), h)

	s.Require().NoError(s.store.SetCursor(s.ctx, "kusama", 101))
	h, _, err = s.store.Cursor(s.ctx, "kusama")
	s.Require().NoError(err)
	s.Equal(uint64(101), h)
}
