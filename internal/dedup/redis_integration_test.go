//go:build integration

package dedup_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"registrar/internal/dedup"
	"registrar/pkg/testutil/containers"
)

type RedisGuardSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	guard *dedup.RedisGuard
}

func TestRedisGuardSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisGuardSuite))
}

func (s *RedisGuardSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.Require().NoError(s.redis.Client.Health(context.Background()))
	s.guard = dedup.NewRedisGuard(s.redis.Client.Client)
}

func (s *RedisGuardSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisGuardSuite) TestWindowExpires() {
	ctx := context.Background()

	ok, err := s.guard.Acquire(ctx, "requested:alice", 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.guard.Acquire(ctx, "requested:alice", 200*time.Millisecond)
	s.Require().NoError(err)
	s.False(ok)

	s.Eventually(func() bool {
		ok, err := s.guard.Acquire(ctx, "requested:alice", 200*time.Millisecond)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisGuardSuite) TestRelease() {
	ctx := context.Background()
	ok, err := s.guard.Acquire(ctx, "judgement:bob", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.guard.Release(ctx, "judgement:bob"))

	ok, err = s.guard.Acquire(ctx, "judgement:bob", time.Minute)
	s.Require().NoError(err)
	s.True(ok)
}

// TestSharedAcrossInstances checks two replicas see the same marker.
func (s *RedisGuardSuite) TestSharedAcrossInstances() {
	ctx := context.Background()
	other := dedup.NewRedisGuard(s.redis.Client.Client)

	const goroutines = 20
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := s.guard
			if i%2 == 1 {
				g = other
			}
			ok, err := g.Acquire(ctx, "redispatch:email", time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
