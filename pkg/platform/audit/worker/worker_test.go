package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"registrar/pkg/platform/audit/store/postgres"
)

type fakeOutbox struct {
	mu        sync.Mutex
	entries   []postgres.Entry
	published map[uuid.UUID]bool
	fetchErr  error
}

func (f *fakeOutbox) FetchPending(_ context.Context, limit int) ([]postgres.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []postgres.Entry
	for _, e := range f.entries {
		if !f.published[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.published[id] = true
	}
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (f *fakeSink) Publish(_ context.Context, msgs []Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

type WorkerSuite struct {
	suite.Suite
	outbox *fakeOutbox
	sink   *fakeSink
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.outbox = &fakeOutbox{published: make(map[uuid.UUID]bool)}
	for i, acc := range []string{"5Alice", "5Bob", "5Alice"} {
		s.outbox.entries = append(s.outbox.entries, postgres.Entry{
			ID:          uuid.New(),
			AggregateID: acc,
			EventType:   "judgement_requested",
			Payload:     []byte(`{"n":` + string(rune('0'+i)) + `}`),
		})
	}
	s.sink = &fakeSink{}
}

func (s *WorkerSuite) TestRelayOnceBatches() {
	var relayed int
	w := NewWorker(s.outbox, s.sink, time.Second, WithBatchSize(2), WithRelayHook(func(n int) { relayed += n }))

	n, err := w.RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = w.RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = w.RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(0, n)

	s.Len(s.sink.msgs, 3)
	s.Equal("5Alice", s.sink.msgs[0].Key)
	s.Equal(3, relayed)
}

func (s *WorkerSuite) TestSinkFailureLeavesEntriesPending() {
	s.sink.err = errors.New("broker down")
	w := NewWorker(s.outbox, s.sink, time.Second)

	_, err := w.RelayOnce(context.Background())
	s.Require().Error(err)
	s.Empty(s.outbox.published)

	s.sink.err = nil
	n, err := w.RelayOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(3, n)
}

func (s *WorkerSuite) TestRunStopsOnCancel() {
	w := NewWorker(s.outbox, s.sink, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	s.Eventually(func() bool {
		s.sink.mu.Lock()
		defer s.sink.mu.Unlock()
		return len(s.sink.msgs) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}
