package service

import (
	"context"
	"crypto/subtle"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
	audit "registrar/pkg/platform/audit"
	"registrar/pkg/requestcontext"
)

// Outcome is the result of a completion attempt.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
)

// Result describes what a completion did. Rejected completions leave the
// request unchanged.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Channel string  `json:"channel"`
	Reason  string  `json:"reason,omitempty"`
}

// Complete records the outcome of a channel challenge. The presented nonce is
// compared in constant time: a match verifies the channel, a mismatch fails
// it. Completions on a terminal request or terminal channel are rejected.
func (s *Service) Complete(ctx context.Context, requestID id.RequestID, ch models.Channel, presentedNonce string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "judgement.complete", trace.WithAttributes(
		attribute.String("judgement_id", requestID.String()),
		attribute.String("channel", string(ch)),
	))
	defer span.End()

	r, err := s.Find(ctx, requestID)
	if err != nil {
		return Result{}, err
	}
	if !r.Requested(ch) {
		return Result{}, dErrors.New(dErrors.CodeBadRequest, "channel was not requested")
	}
	if r.Status.IsTerminal() {
		return s.reject(ctx, ch, "judgement request is no longer active"), nil
	}
	if r.StatusOf(ch).IsTerminal() {
		return s.reject(ctx, ch, "channel already completed"), nil
	}

	next := models.ChannelStatusVerifiedFailed
	outcome := OutcomeFailed
	action := audit.ActionChannelFailed
	if subtle.ConstantTimeCompare([]byte(presentedNonce), []byte(r.Nonce)) == 1 {
		next = models.ChannelStatusVerifiedSuccess
		outcome = OutcomeVerified
		action = audit.ActionChannelVerified
	}

	var applied bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cond := models.And(
			models.Eq(models.FieldStatus, models.RequestStatusActive),
			models.Or(
				models.IsNull(models.StatusField(ch)),
				models.Eq(models.StatusField(ch), models.ChannelStatusPending),
			),
		)
		ok, err := s.store.UpdateIf(ctx, r.ID, cond, models.SetChannel(ch, next, requestcontext.Now(ctx)))
		if err != nil {
			return fmt.Errorf("update channel status: %w", err)
		}
		applied = ok
		if !ok {
			return nil
		}
		return s.emit(ctx, audit.Event{
			Action:      action,
			JudgementID: r.ID.String(),
			Account:     r.Account,
			Channel:     string(ch),
		})
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete channel")
	}
	if !applied {
		// lost a race with another completion or a cancellation
		return s.reject(ctx, ch, "judgement request changed concurrently"), nil
	}

	s.metrics.IncCompletion(string(ch), string(outcome))
	s.logger.InfoContext(ctx, "channel completed",
		"account", r.Account,
		"judgement_id", r.ID.String(),
		"channel", string(ch),
		"outcome", string(outcome),
	)
	s.notifyAsync(ctx, r, ch, outcome == OutcomeVerified)
	return Result{Outcome: outcome, Channel: string(ch)}, nil
}

func (s *Service) reject(ctx context.Context, ch models.Channel, reason string) Result {
	s.metrics.IncCompletion(string(ch), string(OutcomeRejected))
	s.logger.InfoContext(ctx, "completion rejected", "channel", string(ch), "reason", reason)
	return Result{Outcome: OutcomeRejected, Channel: string(ch), Reason: reason}
}

// notifyAsync tells the user the outcome over the same channel, best effort.
func (s *Service) notifyAsync(ctx context.Context, r *models.JudgementRequest, ch models.Channel, verified bool) {
	driver, ok := s.drivers[ch]
	if !ok {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
		defer cancel()
		if err := driver.Notify(nctx, r, verified); err != nil {
			s.logger.WarnContext(nctx, "result notification failed",
				"account", r.Account,
				"channel", string(ch),
				"error", err,
			)
		}
	}()
}
