package audit

import (
	"context"
	"time"
)

// Action names a lifecycle transition of a judgement request.
type Action string

const (
	ActionRequested       Action = "judgement_requested"
	ActionWithdrawn       Action = "judgement_withdrawn"
	ActionIdentityCleared Action = "identity_cleared"
	ActionChallengeSent   Action = "challenge_sent"
	ActionChallengeFailed Action = "challenge_failed"
	ActionChannelVerified Action = "channel_verified"
	ActionChannelFailed   Action = "channel_failed"
	ActionJudged          Action = "judgement_provided"
	ActionJudgementFailed Action = "judgement_failed"
)

// Event is emitted from domain logic to capture lifecycle transitions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	// JudgementID is the judgement request the event belongs to.
	JudgementID string `json:"judgement_id,omitempty"`
	Account     string `json:"account"`
	Channel     string `json:"channel,omitempty"`
	// Detail carries a short outcome such as a tx hash or failure reason.
	Detail string `json:"detail,omitempty"`
	// RequestID is the correlation ID of the tick or HTTP request.
	RequestID string `json:"request_id,omitempty"`
}

// Store persists or forwards events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
