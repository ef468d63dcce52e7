// Package scanner follows the chain block by block and turns identity pallet
// calls addressed to this registrar into lifecycle events.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"registrar/internal/chain"
	"registrar/internal/judgement/models"
	"registrar/internal/platform/metrics"
)

type Chain interface {
	HeadHeight(ctx context.Context) (uint64, error)
	BlockCalls(ctx context.Context, height uint64) (*chain.Block, error)
	IdentityOf(ctx context.Context, account string) (*chain.IdentityInfo, error)
}

type Lifecycle interface {
	OnJudgementRequested(ctx context.Context, account string, fields models.IdentityFields) error
	OnJudgementWithdrawn(ctx context.Context, account string) error
	OnIdentityCleared(ctx context.Context, account string) error
}

type CursorStore interface {
	Cursor(ctx context.Context, chainName string) (uint64, bool, error)
	SetCursor(ctx context.Context, chainName string, height uint64) error
}

type Guard interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Event kinds, also used as guard key prefixes and metric labels.
const (
	KindRequested = "requested"
	KindWithdrawn = "withdrawn"
	KindCleared   = "cleared"
)

type Config struct {
	ChainName        string
	RegistrarIndex   uint32
	PollInterval     time.Duration
	MaxBlocksPerTick int
}

// Scanner processes one block at a time and persists the cursor only after
// every call in the block was applied.
type Scanner struct {
	chain     Chain
	lifecycle Lifecycle
	cursors   CursorStore
	guard     Guard
	cfg       Config

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Scanner)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

func New(c Chain, lifecycle Lifecycle, cursors CursorStore, guard Guard, cfg Config, opts ...Option) (*Scanner, error) {
	if c == nil {
		return nil, errors.New("chain client is required")
	}
	if lifecycle == nil {
		return nil, errors.New("lifecycle handler is required")
	}
	if cursors == nil {
		return nil, errors.New("cursor store is required")
	}
	if guard == nil {
		return nil, errors.New("guard is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if cfg.MaxBlocksPerTick <= 0 {
		cfg.MaxBlocksPerTick = 1
	}
	s := &Scanner{
		chain:     c,
		lifecycle: lifecycle,
		cursors:   cursors,
		guard:     guard,
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.Tracer("registrar/judgement/scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run ticks every poll interval until ctx is cancelled. Tick errors are
// logged and retried on the next tick.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "scanner tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick processes up to MaxBlocksPerTick blocks following the cursor. A block
// that is not produced yet ends the tick without error.
func (s *Scanner) Tick(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scanner.tick")
	defer span.End()

	last, err := s.loadCursor(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load cursor")
		return err
	}

	for i := 0; i < s.cfg.MaxBlocksPerTick; i++ {
		next := last + 1
		block, err := s.chain.BlockCalls(ctx, next)
		if errors.Is(err, chain.ErrBlockNotFound) {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("fetch block %d: %w", next, err)
		}
		if err := s.applyBlock(ctx, block); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "apply block")
			return fmt.Errorf("apply block %d: %w", next, err)
		}
		if err := s.cursors.SetCursor(ctx, s.cfg.ChainName, next); err != nil {
			span.RecordError(err)
			return fmt.Errorf("advance cursor to %d: %w", next, err)
		}
		span.SetAttributes(attribute.Int64("height", int64(next)))
		s.metrics.SetScannerHeight(next)
		s.metrics.IncBlocksProcessed()
		last = next
	}
	return nil
}

// loadCursor returns the last processed height. On a cold start the cursor
// is set just below the head and persisted before any block is read.
func (s *Scanner) loadCursor(ctx context.Context) (uint64, error) {
	last, found, err := s.cursors.Cursor(ctx, s.cfg.ChainName)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if found {
		return last, nil
	}
	head, err := s.chain.HeadHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("head height: %w", err)
	}
	if head > 0 {
		last = head - 1
	}
	if err := s.cursors.SetCursor(ctx, s.cfg.ChainName, last); err != nil {
		return 0, fmt.Errorf("initialize cursor: %w", err)
	}
	s.logger.InfoContext(ctx, "scanner cursor initialized", "chain", s.cfg.ChainName, "height", last)
	return last, nil
}

func (s *Scanner) applyBlock(ctx context.Context, block *chain.Block) error {
	for _, call := range block.Calls {
		if !call.Success || call.Account == "" {
			continue
		}
		kind, ok := s.classify(call)
		if !ok {
			continue
		}
		if err := s.applyCall(ctx, kind, call.Account, block.Height); err != nil {
			return err
		}
		s.metrics.IncCallsApplied(kind)
	}
	return nil
}

// classify maps a call to an event kind. Requests and cancellations for
// other registrars are dropped here.
func (s *Scanner) classify(call chain.Call) (string, bool) {
	switch {
	case call.Is("identity", "request_judgement"):
		return KindRequested, s.forThisRegistrar(call)
	case call.Is("identity", "cancel_request"):
		return KindWithdrawn, s.forThisRegistrar(call)
	case call.Is("identity", "clear_identity"):
		return KindCleared, true
	}
	return "", false
}

func (s *Scanner) forThisRegistrar(call chain.Call) bool {
	idx, err := strconv.ParseUint(call.Args["reg_index"], 10, 32)
	return err == nil && uint32(idx) == s.cfg.RegistrarIndex
}

// applyCall dispatches one classified call. The guard key carries the block
// height so a later request from the same account in the same catch-up run
// is a distinct event.
func (s *Scanner) applyCall(ctx context.Context, kind, account string, height uint64) error {
	key := guardKey(kind, account, height)
	acquired, err := s.guard.Acquire(ctx, key, s.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("acquire guard %s: %w", key, err)
	}
	if !acquired {
		s.metrics.IncGuardRejections(kind)
		s.logger.DebugContext(ctx, "call already in flight, skipping", "key", key)
		return nil
	}

	if err := s.dispatch(ctx, kind, account); err != nil {
		if relErr := s.guard.Release(ctx, key); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release guard", "key", key, "error", relErr)
		}
		return err
	}
	return nil
}

func guardKey(kind, account string, height uint64) string {
	return kind + ":" + account + ":" + strconv.FormatUint(height, 10)
}

func (s *Scanner) dispatch(ctx context.Context, kind, account string) error {
	switch kind {
	case KindRequested:
		info, err := s.chain.IdentityOf(ctx, account)
		if err != nil {
			return fmt.Errorf("identity of %s: %w", account, err)
		}
		if info == nil {
			s.logger.WarnContext(ctx, "judgement requested without identity", "account", account)
			return nil
		}
		return s.lifecycle.OnJudgementRequested(ctx, account, models.IdentityFields{
			Email:   info.Email,
			Social:  info.Social,
			Chat:    info.Chat,
			Display: info.Display,
			Legal:   info.Legal,
			Web:     info.Web,
		})
	case KindWithdrawn:
		return s.lifecycle.OnJudgementWithdrawn(ctx, account)
	case KindCleared:
		return s.lifecycle.OnIdentityCleared(ctx, account)
	}
	return nil
}
