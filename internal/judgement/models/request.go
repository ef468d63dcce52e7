package models

import (
	"time"

	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
)

// IdentityFields are the decoded on-chain identity values a request is built
// from. Empty strings mean the field is not set.
type IdentityFields struct {
	Email   string
	Social  string
	Chat    string
	Display string
	Legal   string
	Web     string
}

// JudgementRequest is one account's request for a judgement from this
// registrar.
//
// Invariants:
//   - ID, Account, RegistrarIndex, proof targets and Nonce are immutable
//   - at most one active request per (Account, RegistrarIndex)
//   - Status transitions: active → cancelled | verifiedSuccess, both terminal
//   - channel status: unset → pending → verifiedSuccess | verifiedFailed
//   - no channel status changes once Status is terminal
type JudgementRequest struct {
	ID             id.RequestID `json:"id"`
	Account        string       `json:"account"`
	RegistrarIndex uint32       `json:"registrar_index"`

	Email   string `json:"email,omitempty"`
	Social  string `json:"social,omitempty"`
	Chat    string `json:"chat,omitempty"`
	Display string `json:"display,omitempty"`
	Legal   string `json:"legal,omitempty"`
	Web     string `json:"web,omitempty"`

	EmailStatus  ChannelStatus `json:"email_status,omitempty"`
	SocialStatus ChannelStatus `json:"social_status,omitempty"`
	ChatStatus   ChannelStatus `json:"chat_status,omitempty"`

	Nonce  string        `json:"-"` // bearer secret, never serialized
	Status RequestStatus `json:"status"`

	JudgementTxHash    string `json:"judgement_tx_hash,omitempty"`
	JudgementBlockHash string `json:"judgement_block_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJudgementRequest builds an active request with every requested channel
// unset. A request with no proof fields is rejected: it would be judged
// without any verification.
func NewJudgementRequest(
	requestID id.RequestID,
	account string,
	registrarIndex uint32,
	fields IdentityFields,
	nonce string,
	now time.Time,
) (*JudgementRequest, error) {
	if account == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account cannot be empty")
	}
	if nonce == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "nonce cannot be empty")
	}
	if fields.Email == "" && fields.Social == "" && fields.Chat == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity has no verifiable fields")
	}
	return &JudgementRequest{
		ID:             requestID,
		Account:        account,
		RegistrarIndex: registrarIndex,
		Email:          fields.Email,
		Social:         fields.Social,
		Chat:           fields.Chat,
		Display:        fields.Display,
		Legal:          fields.Legal,
		Web:            fields.Web,
		Nonce:          nonce,
		Status:         RequestStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Target returns the proof value for ch, empty when not requested.
func (r *JudgementRequest) Target(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSocial:
		return r.Social
	case ChannelChat:
		return r.Chat
	}
	return ""
}

func (r *JudgementRequest) Requested(ch Channel) bool {
	return r.Target(ch) != ""
}

// RequestedChannels derives the channel set from the proof fields.
func (r *JudgementRequest) RequestedChannels() []Channel {
	out := make([]Channel, 0, len(AllChannels))
	for _, ch := range AllChannels {
		if r.Requested(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (r *JudgementRequest) StatusOf(ch Channel) ChannelStatus {
	switch ch {
	case ChannelEmail:
		return r.EmailStatus
	case ChannelSocial:
		return r.SocialStatus
	case ChannelChat:
		return r.ChatStatus
	}
	return ChannelStatusUnset
}

func (r *JudgementRequest) setStatusOf(ch Channel, s ChannelStatus) {
	switch ch {
	case ChannelEmail:
		r.EmailStatus = s
	case ChannelSocial:
		r.SocialStatus = s
	case ChannelChat:
		r.ChatStatus = s
	}
}

// AllRequestedVerified reports whether every requested channel succeeded.
func (r *JudgementRequest) AllRequestedVerified() bool {
	chs := r.RequestedChannels()
	if len(chs) == 0 {
		return false
	}
	for _, ch := range chs {
		if r.StatusOf(ch) != ChannelStatusVerifiedSuccess {
			return false
		}
	}
	return true
}

func (r *JudgementRequest) IsActive() bool {
	return r.Status == RequestStatusActive
}

// Apply copies the supplied fields of upd onto r.
func (r *JudgementRequest) Apply(upd Update) {
	for ch, s := range upd.Channels {
		r.setStatusOf(ch, s)
	}
	if upd.Status != nil {
		r.Status = *upd.Status
	}
	if upd.JudgementTxHash != nil {
		r.JudgementTxHash = *upd.JudgementTxHash
	}
	if upd.JudgementBlockHash != nil {
		r.JudgementBlockHash = *upd.JudgementBlockHash
	}
	if !upd.UpdatedAt.IsZero() {
		r.UpdatedAt = upd.UpdatedAt
	}
}

// Clone returns a copy safe to hand out of a store.
func (r *JudgementRequest) Clone() *JudgementRequest {
	c := *r
	return &c
}

// Update names the mutable fields to overwrite. Nil fields are left alone.
type Update struct {
	Channels           map[Channel]ChannelStatus
	Status             *RequestStatus
	JudgementTxHash    *string
	JudgementBlockHash *string
	UpdatedAt          time.Time
}

// SetChannel returns an update setting one channel's status.
func SetChannel(ch Channel, s ChannelStatus, now time.Time) Update {
	return Update{Channels: map[Channel]ChannelStatus{ch: s}, UpdatedAt: now}
}

// SetStatus returns an update setting the overall status.
func SetStatus(s RequestStatus, now time.Time) Update {
	return Update{Status: &s, UpdatedAt: now}
}

// Judged returns the update recorded after a successful submission.
func Judged(txHash, blockHash string, now time.Time) Update {
	s := RequestStatusVerifiedSuccess
	return Update{
		Status:             &s,
		JudgementTxHash:    &txHash,
		JudgementBlockHash: &blockHash,
		UpdatedAt:          now,
	}
}
