package domain

import (
	"github.com/google/uuid"

	dErrors "registrar/pkg/domain-errors"
)

// RequestID identifies a stored judgement request.
type RequestID uuid.UUID

// NewRequestID returns a fresh random request ID.
func NewRequestID() RequestID {
	return RequestID(uuid.New())
}

// ParseRequestID parses a request ID at a trust boundary.
// Empty, malformed, and nil UUIDs are rejected.
func ParseRequestID(s string) (RequestID, error) {
	if s == "" {
		return RequestID{}, dErrors.New(dErrors.CodeInvalidInput, "request id required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid request id")
	}
	if u == uuid.Nil {
		return RequestID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid request id")
	}
	return RequestID(u), nil
}

func (id RequestID) String() string {
	return uuid.UUID(id).String()
}

func (id RequestID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// AccountID is a chain account address in its SS58 textual form.
type AccountID string

func (a AccountID) String() string {
	return string(a)
}
