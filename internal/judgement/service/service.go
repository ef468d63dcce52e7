// Package service owns the judgement request lifecycle: creating requests
// from chain calls, dispatching channel challenges, completing channels and
// cancelling requests.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"registrar/internal/judgement/models"
	"registrar/internal/platform/metrics"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
	audit "registrar/pkg/platform/audit"
	"registrar/pkg/platform/sentinel"
	txcontext "registrar/pkg/platform/tx"
)

// Store is the subset of the request store the service needs.
type Store interface {
	InsertIfNoActive(ctx context.Context, r *models.JudgementRequest) (bool, error)
	Query(ctx context.Context, p models.Predicate) ([]*models.JudgementRequest, error)
	FindByID(ctx context.Context, requestID id.RequestID) (*models.JudgementRequest, error)
	UpdateIf(ctx context.Context, requestID id.RequestID, cond models.Predicate, upd models.Update) (bool, error)
}

// Driver delivers challenges and result messages for one channel.
type Driver interface {
	Channel() models.Channel
	Invoke(ctx context.Context, r *models.JudgementRequest) error
	Notify(ctx context.Context, r *models.JudgementRequest, verified bool) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner runs fn so that store writes and emitted events commit together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	defaultDispatchTimeout = 30 * time.Second
	nonceBytes             = 32
)

// Service coordinates the request store, channel drivers and lifecycle
// events. It is safe for concurrent use.
type Service struct {
	store          Store
	registrarIndex uint32
	drivers        map[models.Channel]Driver

	tx              TxRunner
	auditPublisher  AuditPublisher
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	dispatchTimeout time.Duration
	newNonce        func() (string, error)

	// inflight tracks background dispatch and notification goroutines.
	inflight sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithDispatchTimeout bounds a single driver call.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

func New(store Store, registrarIndex uint32, drivers []Driver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("request store is required")
	}
	s := &Service{
		store:           store,
		registrarIndex:  registrarIndex,
		drivers:         make(map[models.Channel]Driver, len(drivers)),
		tx:              txcontext.NoopRunner{},
		logger:          slog.Default(),
		tracer:          otel.Tracer("registrar/judgement/service"),
		dispatchTimeout: defaultDispatchTimeout,
		newNonce:        randomNonce,
	}
	for _, d := range drivers {
		if d != nil {
			s.drivers[d.Channel()] = d
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegistrarIndex is the index this service judges for.
func (s *Service) RegistrarIndex() uint32 {
	return s.registrarIndex
}

// Wait blocks until background dispatches and notifications finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// Find returns one request by ID.
func (s *Service) Find(ctx context.Context, requestID id.RequestID) (*models.JudgementRequest, error) {
	r, err := s.store.FindByID(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "judgement request not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load judgement request")
	}
	return r, nil
}

// Latest returns the most recent request for an account at this registrar.
func (s *Service) Latest(ctx context.Context, account string) (*models.JudgementRequest, error) {
	reqs, err := s.store.Query(ctx, models.And(
		models.Eq(models.FieldAccount, account),
		models.Eq(models.FieldRegistrarIndex, s.registrarIndex),
	))
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return reqs[len(reqs)-1], nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, event)
}

// emitBestEffort logs instead of failing; used where the state change has
// already been committed.
func (s *Service) emitBestEffort(ctx context.Context, event audit.Event) {
	if err := s.emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit lifecycle event",
			"action", event.Action,
			"account", event.Account,
			"error", err,
		)
	}
}

func randomNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
