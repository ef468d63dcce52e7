//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"registrar/internal/judgement/models"
	"registrar/internal/judgement/store"
	id "registrar/pkg/domain"
	"registrar/pkg/platform/sentinel"
	txcontext "registrar/pkg/platform/tx"
	"registrar/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "judgement_requests", "block_cursors")
	s.Require().NoError(err)
}

func newRequest(account string, fields models.IdentityFields) *models.JudgementRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	r, err := models.NewJudgementRequest(id.NewRequestID(), account, 0, fields, "nonce-"+account, now)
	if err != nil {
		panic(err)
	}
	return r
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	r := newRequest("alice", models.IdentityFields{Email: "alice@example.com", Chat: "@alice:matrix.org", Display: "Alice"})

	_, err := s.store.Insert(ctx, r)
	s.Require().NoError(err)

	got, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
	s.Equal("alice@example.com", got.Email)
	s.Equal("", got.Social)
	s.Equal("Alice", got.Display)
	s.Equal(models.ChannelStatusUnset, got.EmailStatus)
	s.Equal("nonce-alice", got.Nonce)
	s.True(r.CreatedAt.Equal(got.CreatedAt))

	_, err = s.store.FindByID(ctx, id.NewRequestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentInsertIfNoActive checks the partial unique index admits one
// active request per account.
func (s *PostgresStoreSuite) TestConcurrentInsertIfNoActive() {
	ctx := context.Background()
	const goroutines = 30

	var wg sync.WaitGroup
	var wins, losses atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.InsertIfNoActive(ctx, newRequest("bob", models.IdentityFields{Social: "bob"}))
			switch {
			case err != nil:
			case ok:
				wins.Add(1)
			default:
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), losses.Load())
}

func (s *PostgresStoreSuite) TestReadyForJudgementQuery() {
	ctx := context.Background()

	ready := newRequest("carol", models.IdentityFields{Email: "c@x.io", Social: "carol"})
	mixed := newRequest("dave", models.IdentityFields{Email: "d@x.io", Social: "dave"})
	for _, r := range []*models.JudgementRequest{ready, mixed} {
		_, err := s.store.Insert(ctx, r)
		s.Require().NoError(err)
	}

	ok, err := s.store.UpdateIf(ctx, ready.ID, models.And(), models.Update{Channels: map[models.Channel]models.ChannelStatus{
		models.ChannelEmail:  models.ChannelStatusVerifiedSuccess,
		models.ChannelSocial: models.ChannelStatusVerifiedSuccess,
	}})
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.store.UpdateIf(ctx, mixed.ID, models.And(), models.Update{Channels: map[models.Channel]models.ChannelStatus{
		models.ChannelEmail:  models.ChannelStatusVerifiedSuccess,
		models.ChannelSocial: models.ChannelStatusVerifiedFailed,
	}})
	s.Require().NoError(err)
	s.True(ok)

	got, err := s.store.Query(ctx, models.ReadyForJudgement(0))
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(ready.ID, got[0].ID)
}

func (s *PostgresStoreSuite) TestUpdateIfRespectsCondition() {
	ctx := context.Background()
	r := newRequest("erin", models.IdentityFields{Email: "e@x.io"})
	_, err := s.store.Insert(ctx, r)
	s.Require().NoError(err)

	s.Require().NoError(s.store.UpdateByID(ctx, r.ID, models.SetStatus(models.RequestStatusCancelled, time.Now())))

	ok, err := s.store.UpdateIf(ctx, r.ID,
		models.Eq(models.FieldStatus, models.RequestStatusActive),
		models.SetChannel(models.ChannelEmail, models.ChannelStatusVerifiedSuccess, time.Now()))
	s.Require().NoError(err)
	s.False(ok)

	got, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusCancelled, got.Status)
	s.Equal(models.ChannelStatusUnset, got.EmailStatus)
}

func (s *PostgresStoreSuite) TestJudgedReceipt() {
	ctx := context.Background()
	r := newRequest("frank", models.IdentityFields{Email: "f@x.io"})
	_, err := s.store.Insert(ctx, r)
	s.Require().NoError(err)

	s.Require().NoError(s.store.UpdateByID(ctx, r.ID, models.Judged("0xabc", "0xdef", time.Now())))
	got, err := s.store.FindByID(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusVerifiedSuccess, got.Status)
	s.Equal("0xabc", got.JudgementTxHash)
	s.Equal("0xdef", got.JudgementBlockHash)
}

func (s *PostgresStoreSuite) TestCursorMonotonic() {
	ctx := context.Background()
	s.Require().NoError(s.store.SetCursor(ctx, "kusama", 500))
	s.Require().NoError(s.store.SetCursor(ctx, "kusama", 10))

	h, found, err := s.store.Cursor(ctx, "kusama")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(uint64(500), h)

	_, found, err = s.store.Cursor(ctx, "polkadot")
	s.Require().NoError(err)
	s.False(found)
}

func (s *PostgresStoreSuite) TestTransactionRollback() {
	ctx := context.Background()
	runner := txcontext.NewRunner(s.postgres.DB)
	r := newRequest("gina", models.IdentityFields{Email: "g@x.io"})

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.Insert(ctx, r); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	})
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.store.FindByID(ctx, r.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
