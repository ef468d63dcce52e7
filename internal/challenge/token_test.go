package challenge

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
)

func testRequest(t *testing.T) *models.JudgementRequest {
	t.Helper()
	r, err := models.NewJudgementRequest(id.NewRequestID(), "5Alice", 0,
		models.IdentityFields{Email: "alice@example.com"}, "deadbeef", time.Now())
	require.NoError(t, err)
	return r
}

func TestIssueAndParse(t *testing.T) {
	svc := NewTokenService("test-signing-key", time.Hour)
	r := testRequest(t)

	token, err := svc.Issue(r, models.ChannelEmail)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.RequestID)
	assert.Equal(t, models.ChannelEmail, got.Channel)
	assert.Equal(t, "5Alice", got.Account)
	assert.Equal(t, "deadbeef", got.Nonce)
}

func TestParse_Rejections(t *testing.T) {
	svc := NewTokenService("test-signing-key", time.Hour)
	r := testRequest(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Parse("not-a-token")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewTokenService("test-signing-key", time.Hour)
		expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := expired.Issue(r, models.ChannelEmail)
		require.NoError(t, err)

		_, err = svc.Parse(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewTokenService("other-key", time.Hour)
		token, err := other.Issue(r, models.ChannelEmail)
		require.NoError(t, err)
		_, err = svc.Parse(token)
		require.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RequestID: r.ID.String(), Channel: "email"})
		s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Parse(s)
		require.Error(t, err)
	})

	t.Run("unknown channel", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RequestID: r.ID.String(),
			Channel:   "carrier-pigeon",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		s, err := token.SignedString([]byte("test-signing-key"))
		require.NoError(t, err)
		_, err = svc.Parse(s)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
