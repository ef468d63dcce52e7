// Package scheduler runs the registrar's background loops side by side and
// stops them together.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"registrar/internal/judgement/models"
)

// Job is a loop that runs until ctx is cancelled.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

type namedJob struct {
	name string
	job  Job
}

type Scheduler struct {
	jobs   []namedJob
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add registers a long-running job.
func (s *Scheduler) Add(name string, job Job) {
	s.jobs = append(s.jobs, namedJob{name: name, job: job})
}

// Every registers fn to run every interval. Errors are logged and the loop
// continues; the first run happens after one interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.Add(name, JobFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "scheduled job failed", "job", name, "error", err)
			}
		}
	}))
}

// Run starts every job and blocks until all have returned. A job returning
// an error cancels the others.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.logger.InfoContext(ctx, "job started", "job", j.name)
			err := j.job.Run(ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			s.logger.InfoContext(ctx, "job stopped", "job", j.name)
			return err
		})
	}
	return g.Wait()
}

// Redispatcher re-sends challenges for one channel.
type Redispatcher interface {
	Redispatch(ctx context.Context, ch models.Channel, minAge time.Duration) (int, error)
}

type Guard interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedispatchTick returns a tick function for the channel's re-dispatch job.
// The guard keeps replicas sharing a Redis guard from running the same
// channel job concurrently.
func RedispatchTick(r Redispatcher, guard Guard, ch models.Channel, interval, minAge time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	key := "redispatch:" + string(ch)
	return func(ctx context.Context) error {
		acquired, err := guard.Acquire(ctx, key, interval)
		if err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		sent, err := r.Redispatch(ctx, ch, minAge)
		if err != nil {
			return err
		}
		if sent > 0 {
			logger.InfoContext(ctx, "challenges re-dispatched", "channel", string(ch), "count", sent)
		}
		return nil
	}
}
