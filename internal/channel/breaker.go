package channel

import (
	"context"
	"errors"
	"log/slog"

	"registrar/internal/judgement/models"
	"registrar/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while a driver is resting after repeated failures.
var ErrCircuitOpen = errors.New("channel circuit open")

// Driver delivers a challenge and an optional result message over one channel.
type Driver interface {
	Channel() models.Channel
	Invoke(ctx context.Context, r *models.JudgementRequest) error
	Notify(ctx context.Context, r *models.JudgementRequest, verified bool) error
}

// Guarded wraps a driver with a circuit breaker so an unreachable backend is
// not hammered by every dispatch. Context cancellation is not counted as a
// backend failure.
type Guarded struct {
	Driver
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func WithBreaker(d Driver, b *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{Driver: d, breaker: b, logger: logger}
}

func (g *Guarded) Invoke(ctx context.Context, r *models.JudgementRequest) error {
	return g.call(ctx, func() error { return g.Driver.Invoke(ctx, r) })
}

func (g *Guarded) Notify(ctx context.Context, r *models.JudgementRequest, verified bool) error {
	return g.call(ctx, func() error { return g.Driver.Notify(ctx, r, verified) })
}

func (g *Guarded) call(ctx context.Context, fn func() error) error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	if err == nil {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "channel circuit closed", "channel", g.breaker.Name())
		}
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "channel circuit opened", "channel", g.breaker.Name(), "error", err)
	}
	return err
}
