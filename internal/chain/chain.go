// Package chain talks to the identity pallet through a Substrate API Sidecar
// gateway and an external signing service.
package chain

import (
	"fmt"
	"strings"

	"registrar/pkg/platform/sentinel"
)

var (
	// ErrBlockNotFound is returned for heights the chain has not produced yet.
	ErrBlockNotFound = fmt.Errorf("block %w", sentinel.ErrNotFound)
	// ErrExtrinsicFailed is returned when a submitted extrinsic was included
	// but its dispatch, or the call it proxied, failed.
	ErrExtrinsicFailed = fmt.Errorf("extrinsic dispatch: %w", sentinel.ErrInvalidState)
	// ErrInclusionTimeout is returned when a submitted extrinsic was not seen
	// in a block before the inclusion deadline. It may still land later.
	ErrInclusionTimeout = fmt.Errorf("extrinsic inclusion: %w", sentinel.ErrUnavailable)
)

// Call is one extrinsic in a block.
type Call struct {
	Section string
	Method  string
	Account string
	Args    map[string]string
	Success bool
}

// Is reports whether c is section.method, ignoring case and underscores so
// "request_judgement" and "requestJudgement" both match.
func (c Call) Is(section, method string) bool {
	return normalizeName(c.Section) == normalizeName(section) &&
		normalizeName(c.Method) == normalizeName(method)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// Block is the subset of a block the scanner needs.
type Block struct {
	Height uint64
	Hash   string
	Calls  []Call
}

// IdentityInfo is the decoded identity of an account. Empty fields are unset.
type IdentityInfo struct {
	Display string
	Legal   string
	Web     string
	Email   string
	Social  string
	Chat    string
}

// Receipt records an included judgement transaction.
type Receipt struct {
	TxHash    string
	BlockHash string
}

// Judgement is the registrar's verdict on an identity.
type Judgement string

const (
	JudgementUnknown    Judgement = "Unknown"
	JudgementFeePaid    Judgement = "FeePaid"
	JudgementReasonable Judgement = "Reasonable"
	JudgementKnownGood  Judgement = "KnownGood"
	JudgementOutOfDate  Judgement = "OutOfDate"
	JudgementLowQuality Judgement = "LowQuality"
	JudgementErroneous  Judgement = "Erroneous"
)

// ParseJudgement accepts the pallet's variant names case-insensitively.
// FeePaid is rejected: it carries a balance and is never given by this
// registrar.
func ParseJudgement(s string) (Judgement, error) {
	for _, j := range []Judgement{
		JudgementUnknown, JudgementReasonable, JudgementKnownGood,
		JudgementOutOfDate, JudgementLowQuality, JudgementErroneous,
	} {
		if strings.EqualFold(s, string(j)) {
			return j, nil
		}
	}
	return "", fmt.Errorf("unsupported judgement %q", s)
}
