package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
	audit "registrar/pkg/platform/audit"
	"registrar/pkg/requestcontext"
)

// OnJudgementRequested creates the account's request unless one is already
// active, then dispatches a challenge on every requested channel. Dispatch
// runs in the background; the returned error only covers the store write.
func (s *Service) OnJudgementRequested(ctx context.Context, account string, fields models.IdentityFields) error {
	ctx, span := s.tracer.Start(ctx, "judgement.requested",
		trace.WithAttributes(attribute.String("account", account)))
	defer span.End()

	nonce, err := s.newNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	req, err := models.NewJudgementRequest(id.NewRequestID(), account, s.registrarIndex, fields, nonce, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			s.logger.WarnContext(ctx, "judgement request ignored",
				"account", account,
				"reason", err.Error(),
			)
			return nil
		}
		return err
	}

	var inserted bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.InsertIfNoActive(ctx, req)
		if err != nil {
			return fmt.Errorf("insert judgement request: %w", err)
		}
		inserted = ok
		if !ok {
			return nil
		}
		return s.emit(ctx, audit.Event{
			Action:      audit.ActionRequested,
			JudgementID: req.ID.String(),
			Account:     account,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	if !inserted {
		s.logger.DebugContext(ctx, "active judgement request exists, ignoring", "account", account)
		return nil
	}

	s.logger.InfoContext(ctx, "judgement request created",
		"account", account,
		"judgement_id", req.ID.String(),
		"channels", req.RequestedChannels(),
	)
	for _, ch := range req.RequestedChannels() {
		s.dispatchAsync(ctx, req, ch)
	}
	return nil
}

// OnJudgementWithdrawn cancels the account's active request. A missing or
// already terminal request is a no-op.
func (s *Service) OnJudgementWithdrawn(ctx context.Context, account string) error {
	return s.cancelActive(ctx, account, audit.ActionWithdrawn)
}

// OnIdentityCleared cancels the account's active request like a withdrawal.
func (s *Service) OnIdentityCleared(ctx context.Context, account string) error {
	return s.cancelActive(ctx, account, audit.ActionIdentityCleared)
}

func (s *Service) cancelActive(ctx context.Context, account string, action audit.Action) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		active, err := s.store.Query(ctx, models.ActiveFor(account, s.registrarIndex))
		if err != nil {
			return fmt.Errorf("find active request: %w", err)
		}
		for _, r := range active {
			ok, err := s.store.UpdateIf(ctx, r.ID,
				models.Eq(models.FieldStatus, models.RequestStatusActive),
				models.SetStatus(models.RequestStatusCancelled, requestcontext.Now(ctx)))
			if err != nil {
				return fmt.Errorf("cancel request %s: %w", r.ID, err)
			}
			if !ok {
				continue
			}
			s.logger.InfoContext(ctx, "judgement request cancelled",
				"account", account,
				"judgement_id", r.ID.String(),
				"reason", string(action),
			)
			if err := s.emit(ctx, audit.Event{
				Action:      action,
				JudgementID: r.ID.String(),
				Account:     account,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Redispatch re-sends challenges for active requests whose channel ch was
// never marked pending, skipping requests younger than minAge so freshly
// created requests are left to their initial dispatch. Returns the number of
// challenges sent.
func (s *Service) Redispatch(ctx context.Context, ch models.Channel, minAge time.Duration) (int, error) {
	if _, ok := s.drivers[ch]; !ok {
		return 0, nil
	}
	reqs, err := s.store.Query(ctx, models.AwaitingDispatch(s.registrarIndex, ch))
	if err != nil {
		return 0, fmt.Errorf("query awaiting %s: %w", ch, err)
	}
	cutoff := requestcontext.Now(ctx).Add(-minAge)
	sent := 0
	for _, r := range reqs {
		if r.CreatedAt.After(cutoff) {
			continue
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
		if s.dispatch(dctx, r, ch) {
			sent++
		}
		cancel()
	}
	return sent, nil
}

func (s *Service) dispatchAsync(ctx context.Context, r *models.JudgementRequest, ch models.Channel) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
		defer cancel()
		s.dispatch(dctx, r, ch)
	}()
}

// dispatch invokes the channel driver and marks the channel pending. A
// failed or missing driver leaves the channel unset for the re-dispatch job.
func (s *Service) dispatch(ctx context.Context, r *models.JudgementRequest, ch models.Channel) bool {
	logger := s.logger.With("account", r.Account, "judgement_id", r.ID.String(), "channel", string(ch))
	driver, ok := s.drivers[ch]
	if !ok {
		logger.WarnContext(ctx, "no driver configured for channel")
		return false
	}
	if err := driver.Invoke(ctx, r); err != nil {
		s.metrics.IncChallengeFailed(string(ch))
		logger.ErrorContext(ctx, "challenge dispatch failed", "error", err)
		s.emitBestEffort(ctx, audit.Event{
			Action:      audit.ActionChallengeFailed,
			JudgementID: r.ID.String(),
			Account:     r.Account,
			Channel:     string(ch),
			Detail:      err.Error(),
		})
		return false
	}
	s.metrics.IncChallengeSent(string(ch))

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cond := models.And(
			models.Eq(models.FieldStatus, models.RequestStatusActive),
			models.IsNull(models.StatusField(ch)),
		)
		ok, err := s.store.UpdateIf(ctx, r.ID, cond,
			models.SetChannel(ch, models.ChannelStatusPending, requestcontext.Now(ctx)))
		if err != nil || !ok {
			return err
		}
		return s.emit(ctx, audit.Event{
			Action:      audit.ActionChallengeSent,
			JudgementID: r.ID.String(),
			Account:     r.Account,
			Channel:     string(ch),
		})
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark channel pending", "error", err)
		return false
	}
	logger.InfoContext(ctx, "challenge sent")
	return true
}
