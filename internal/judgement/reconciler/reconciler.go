// Package reconciler submits judgements for requests whose every requested
// channel has been verified.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"registrar/internal/chain"
	"registrar/internal/judgement/models"
	"registrar/internal/platform/metrics"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
	audit "registrar/pkg/platform/audit"
	txcontext "registrar/pkg/platform/tx"
	"registrar/pkg/requestcontext"
)

type Store interface {
	Query(ctx context.Context, p models.Predicate) ([]*models.JudgementRequest, error)
	UpdateIf(ctx context.Context, requestID id.RequestID, cond models.Predicate, upd models.Update) (bool, error)
}

type Submitter interface {
	SubmitJudgement(ctx context.Context, target string, registrarIndex uint32, judgement chain.Judgement) (chain.Receipt, error)
}

type Guard interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	RegistrarIndex uint32
	Interval       time.Duration
	Judgement      chain.Judgement
	// Parallelism bounds concurrent submissions for different accounts.
	Parallelism int
}

type Reconciler struct {
	store     Store
	submitter Submitter
	guard     Guard
	cfg       Config

	tx             TxRunner
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(r *Reconciler) {
		r.auditPublisher = p
	}
}

func WithTxRunner(tx TxRunner) Option {
	return func(r *Reconciler) {
		r.tx = tx
	}
}

func New(store Store, submitter Submitter, guard Guard, cfg Config, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("request store is required")
	}
	if submitter == nil {
		return nil, errors.New("judgement submitter is required")
	}
	if guard == nil {
		return nil, errors.New("guard is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if cfg.Judgement == "" {
		cfg.Judgement = chain.JudgementReasonable
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	r := &Reconciler{
		store:     store,
		submitter: submitter,
		guard:     guard,
		cfg:       cfg,
		tx:        txcontext.NoopRunner{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("registrar/judgement/reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run reconciles every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "reconcile tick failed", "error", err)
		}
	}
}

// Tick submits a judgement for every ready request. Submission failures are
// logged and leave the request active for the next tick; only the selection
// query can fail the tick.
func (r *Reconciler) Tick(ctx context.Context) error {
	start := time.Now()
	defer r.metrics.ObserveReconcile(start)

	ctx, span := r.tracer.Start(ctx, "reconciler.tick")
	defer span.End()

	ready, err := r.store.Query(ctx, models.ReadyForJudgement(r.cfg.RegistrarIndex))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select ready")
		return fmt.Errorf("select ready requests: %w", err)
	}
	span.SetAttributes(attribute.Int("ready", len(ready)))

	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for _, req := range ready {
		g.Go(func() error {
			r.judge(ctx, req)
			return nil
		})
	}
	return g.Wait()
}

func (r *Reconciler) judge(ctx context.Context, req *models.JudgementRequest) {
	key := "judgement:" + req.Account
	logger := r.logger.With("account", req.Account, "judgement_id", req.ID.String())

	acquired, err := r.guard.Acquire(ctx, key, r.cfg.Interval)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire judgement guard", "error", err)
		return
	}
	if !acquired {
		r.metrics.IncGuardRejections("judgement")
		return
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.submit", trace.WithAttributes(
		attribute.String("account", req.Account),
		attribute.String("judgement", string(r.cfg.Judgement)),
	))
	defer span.End()

	receipt, err := r.submitter.SubmitJudgement(ctx, req.Account, r.cfg.RegistrarIndex, r.cfg.Judgement)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit")
		r.metrics.IncJudgementFailed()
		logger.ErrorContext(ctx, "judgement submission failed", "tx_hash", receipt.TxHash, "error", err)
		if relErr := r.guard.Release(ctx, key); relErr != nil {
			logger.WarnContext(ctx, "failed to release judgement guard", "error", relErr)
		}
		// an extrinsic that timed out may still land, so the account stays
		// guarded for one more window counted from now
		if errors.Is(err, chain.ErrInclusionTimeout) {
			if _, accErr := r.guard.Acquire(ctx, key, r.cfg.Interval); accErr != nil {
				logger.WarnContext(ctx, "failed to re-arm judgement guard", "error", accErr)
			}
		}
		if emitErr := r.emit(ctx, audit.Event{
			Action:      audit.ActionJudgementFailed,
			JudgementID: req.ID.String(),
			Account:     req.Account,
			Detail:      err.Error(),
		}); emitErr != nil {
			logger.WarnContext(ctx, "failed to emit lifecycle event", "error", emitErr)
		}
		return
	}
	r.metrics.IncJudgementSubmitted()

	var recorded bool
	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := r.store.UpdateIf(ctx, req.ID,
			models.Eq(models.FieldStatus, models.RequestStatusActive),
			models.Judged(receipt.TxHash, receipt.BlockHash, requestcontext.Now(ctx)))
		if err != nil || !ok {
			return err
		}
		recorded = true
		return r.emit(ctx, audit.Event{
			Action:      audit.ActionJudged,
			JudgementID: req.ID.String(),
			Account:     req.Account,
			Detail:      receipt.TxHash,
		})
	})
	switch {
	case err != nil:
		span.RecordError(err)
		logger.ErrorContext(ctx, "judgement submitted but not recorded", "tx_hash", receipt.TxHash, "error", err)
	case !recorded:
		logger.WarnContext(ctx, "request left active state during submission", "tx_hash", receipt.TxHash)
	default:
		logger.InfoContext(ctx, "judgement provided", "tx_hash", receipt.TxHash, "judgement", string(r.cfg.Judgement))
	}
}

// Provide submits an operator-chosen judgement for target outside the
// automatic flow. Request state is not changed.
func (r *Reconciler) Provide(ctx context.Context, target string, judgement chain.Judgement) (chain.Receipt, error) {
	if target == "" {
		return chain.Receipt{}, dErrors.New(dErrors.CodeInvalidInput, "target is required")
	}
	key := "judgement:" + target
	acquired, err := r.guard.Acquire(ctx, key, r.cfg.Interval)
	if err != nil {
		return chain.Receipt{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "judgement guard unavailable")
	}
	if !acquired {
		return chain.Receipt{}, dErrors.New(dErrors.CodeConflict, "a judgement for this account is already in flight")
	}
	defer func() {
		if relErr := r.guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
			r.logger.WarnContext(ctx, "failed to release judgement guard", "account", target, "error", relErr)
		}
	}()

	receipt, err := r.submitter.SubmitJudgement(ctx, target, r.cfg.RegistrarIndex, judgement)
	if err != nil {
		r.metrics.IncJudgementFailed()
		return chain.Receipt{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "judgement submission failed")
	}
	r.metrics.IncJudgementSubmitted()
	r.logger.InfoContext(ctx, "manual judgement provided",
		"account", target,
		"judgement", string(judgement),
		"tx_hash", receipt.TxHash,
	)
	if err := r.emit(ctx, audit.Event{
		Action:  audit.ActionJudged,
		Account: target,
		Detail:  string(judgement) + " " + receipt.TxHash,
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to emit lifecycle event", "error", err)
	}
	return receipt, nil
}

func (r *Reconciler) emit(ctx context.Context, event audit.Event) error {
	if r.auditPublisher == nil {
		return nil
	}
	return r.auditPublisher.Emit(ctx, event)
}
