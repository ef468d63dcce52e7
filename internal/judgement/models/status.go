package models

import dErrors "registrar/pkg/domain-errors"

// Channel is one proof-of-ownership mechanism.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelSocial Channel = "social"
	ChannelChat   Channel = "chat"
)

// AllChannels lists channels in dispatch order.
var AllChannels = []Channel{ChannelEmail, ChannelSocial, ChannelChat}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSocial, ChannelChat:
		return true
	}
	return false
}

func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown channel")
	}
	return c, nil
}

// ChannelStatus tracks one channel. The zero value means unset: the channel
// was not requested or has not been dispatched yet.
type ChannelStatus string

const (
	ChannelStatusUnset           ChannelStatus = ""
	ChannelStatusPending         ChannelStatus = "pending"
	ChannelStatusVerifiedSuccess ChannelStatus = "verifiedSuccess"
	ChannelStatusVerifiedFailed  ChannelStatus = "verifiedFailed"
)

func (s ChannelStatus) String() string { return string(s) }

// IsTerminal reports whether the status may never change again.
func (s ChannelStatus) IsTerminal() bool {
	return s == ChannelStatusVerifiedSuccess || s == ChannelStatusVerifiedFailed
}

// CanTransitionTo allows unset→pending and {unset,pending}→terminal.
func (s ChannelStatus) CanTransitionTo(next ChannelStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case ChannelStatusPending:
		return s == ChannelStatusUnset
	case ChannelStatusVerifiedSuccess, ChannelStatusVerifiedFailed:
		return true
	}
	return false
}

// RequestStatus is the overall state of a judgement request.
type RequestStatus string

const (
	RequestStatusActive          RequestStatus = "active"
	RequestStatusCancelled       RequestStatus = "cancelled"
	RequestStatusVerifiedSuccess RequestStatus = "verifiedSuccess"
)

func (s RequestStatus) String() string { return string(s) }

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCancelled || s == RequestStatusVerifiedSuccess
}

// CanTransitionTo allows only active→cancelled and active→verifiedSuccess.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	return s == RequestStatusActive && next.IsTerminal()
}
