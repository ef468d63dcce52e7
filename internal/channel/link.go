// Package channel implements the drivers that deliver verification
// challenges over email, the social network and the chat network.
package channel

import (
	"fmt"
	"net/url"
	"strings"

	"registrar/internal/judgement/models"
)

// Issuer signs a challenge token for one channel of a request.
type Issuer interface {
	Issue(r *models.JudgementRequest, ch models.Channel) (string, error)
}

// Linker builds the verification links embedded in challenges.
type Linker struct {
	baseURL string
	issuer  Issuer
}

func NewLinker(baseURL string, issuer Issuer) *Linker {
	return &Linker{baseURL: strings.TrimRight(baseURL, "/"), issuer: issuer}
}

// Link returns the landing URL for ch; following it completes the channel.
func (l *Linker) Link(r *models.JudgementRequest, ch models.Channel) (string, error) {
	token, err := l.issuer.Issue(r, ch)
	if err != nil {
		return "", fmt.Errorf("issue %s token: %w", ch, err)
	}
	return l.baseURL + "/verify/" + string(ch) + "?token=" + url.QueryEscape(token), nil
}

func outcomeText(verified bool) string {
	if verified {
		return "verified successfully"
	}
	return "could not be verified"
}
