package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/dedup"
	"registrar/internal/judgement/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsJobsUntilCancelled(t *testing.T) {
	s := New(discardLogger())
	var ticks atomic.Int32
	s.Every("counter", 5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	})
	started := make(chan struct{})
	s.Add("blocking", JobFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerJobFailureStopsOthers(t *testing.T) {
	s := New(discardLogger())
	boom := errors.New("boom")
	s.Add("failing", JobFunc(func(context.Context) error { return boom }))
	s.Add("waiting", JobFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestEveryKeepsRunningAfterError(t *testing.T) {
	s := New(discardLogger())
	var calls atomic.Int32
	s.Every("flaky", time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("transient")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
}

type fakeRedispatcher struct {
	mu    sync.Mutex
	calls []models.Channel
	sent  int
	err   error
}

func (f *fakeRedispatcher) Redispatch(_ context.Context, ch models.Channel, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ch)
	return f.sent, f.err
}

func TestRedispatchTickIsGuardedPerChannel(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	guard := dedup.NewInMemoryGuard(8, dedup.WithClock(func() time.Time { return now }))
	r := &fakeRedispatcher{sent: 1}

	email := RedispatchTick(r, guard, models.ChannelEmail, time.Minute, 0, discardLogger())
	chat := RedispatchTick(r, guard, models.ChannelChat, time.Minute, 0, discardLogger())

	require.NoError(t, email(context.Background()))
	require.NoError(t, email(context.Background()))
	require.NoError(t, chat(context.Background()))

	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelChat}, r.calls)

	now = now.Add(2 * time.Minute)
	require.NoError(t, email(context.Background()))
	assert.Len(t, r.calls, 3)
}

func TestRedispatchTickPropagatesErrors(t *testing.T) {
	guard := dedup.NewInMemoryGuard(8)
	r := &fakeRedispatcher{err: errors.New("db down")}
	tick := RedispatchTick(r, guard, models.ChannelSocial, time.Minute, 0, discardLogger())
	assert.Error(t, tick(context.Background()))
}
