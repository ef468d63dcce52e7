// Package challenge signs and verifies the links sent to users. A token binds
// a request ID and channel to the request's nonce; the service compares the
// nonce, the token only carries it.
package challenge

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
)

const issuer = "registrar"

// Claims are the challenge token claims.
type Claims struct {
	RequestID string `json:"rid"`
	Channel   string `json:"ch"`
	Account   string `json:"acc"`
	Nonce     string `json:"nonce"`
	jwt.RegisteredClaims
}

// Challenge is a verified token's payload.
type Challenge struct {
	RequestID id.RequestID
	Channel   models.Channel
	Account   string
	Nonce     string
}

// TokenService issues and validates HS256 challenge tokens.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(signingKey string, ttl time.Duration) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue signs a token for one channel of a request.
func (s *TokenService) Issue(r *models.JudgementRequest, ch models.Channel) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RequestID: r.ID.String(),
		Channel:   string(ch),
		Account:   r.Account,
		Nonce:     r.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Parse validates a token and returns its challenge.
func (s *TokenService) Parse(tokenString string) (*Challenge, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "verification link has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid verification link")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid verification link")
	}
	requestID, err := id.ParseRequestID(claims.RequestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid verification link")
	}
	ch, err := models.ParseChannel(claims.Channel)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid verification link")
	}
	return &Challenge{
		RequestID: requestID,
		Channel:   ch,
		Account:   claims.Account,
		Nonce:     claims.Nonce,
	}, nil
}
