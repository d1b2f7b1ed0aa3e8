package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quill-blog/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Unix(1_760_000_000, 0).UTC()

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(t *testing.T, now time.Time, bind bool) *Service {
	t.Helper()
	svc, err := NewService(config.TokenConfig{
		Secret:      "super-secret",
		SessionTTL:  24 * time.Hour,
		ActionTTL:   10 * time.Minute,
		BindPurpose: bind,
	}, WithClock(fixedClock(now)))
	require.NoError(t, err)
	return svc
}

// tamper flips one character in the middle of the signature segment.
func tamper(token string) string {
	i := strings.LastIndex(token, ".") + 5
	replacement := byte('A')
	if token[i] == 'A' {
		replacement = 'B'
	}
	return token[:i] + string(replacement) + token[i+1:]
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := NewService(config.TokenConfig{Secret: "  "})
	require.Error(t, err)
}

func TestNewService_DefaultTTLs(t *testing.T) {
	svc, err := NewService(config.TokenConfig{Secret: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionTTL, svc.sessionTTL)
	assert.Equal(t, DefaultActionTTL, svc.actionTTL)
}

func TestSession_RoundTrip(t *testing.T) {
	svc := newTestService(t, issuedAt, false)

	token, expiresAt, err := svc.IssueSession(42, "Ada")
	require.NoError(t, err)
	assert.True(t, expiresAt.Equal(issuedAt.Add(24*time.Hour)))

	claims, err := svc.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, "Ada", claims.Name)
	assert.True(t, claims.IssuedAt.Time.Equal(issuedAt))
	assert.True(t, claims.ExpiresAt.Time.Equal(expiresAt))
}

func TestSession_ExpiryWindow(t *testing.T) {
	issuer := newTestService(t, issuedAt, false)
	token, _, err := issuer.IssueSession(7, "Grace")
	require.NoError(t, err)

	early := newTestService(t, issuedAt.Add(23*time.Hour+59*time.Minute), false)
	_, err = early.VerifySession(token)
	require.NoError(t, err)

	late := newTestService(t, issuedAt.Add(24*time.Hour+1*time.Minute), false)
	_, err = late.VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSession_TamperedRejected(t *testing.T) {
	svc := newTestService(t, issuedAt, false)
	token, _, err := svc.IssueSession(1, "Linus")
	require.NoError(t, err)

	_, err = svc.VerifySession(tamper(token))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSession_WrongSecretRejected(t *testing.T) {
	svc := newTestService(t, issuedAt, false)
	token, _, err := svc.IssueSession(1, "Linus")
	require.NoError(t, err)

	other, err := NewService(config.TokenConfig{Secret: "other-secret"}, WithClock(fixedClock(issuedAt)))
	require.NoError(t, err)

	_, err = other.VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSession_RejectsNoneAlgorithm(t *testing.T) {
	svc := newTestService(t, issuedAt, false)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour))},
		UserID:           1,
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSession_MalformedRejected(t *testing.T) {
	svc := newTestService(t, issuedAt, false)

	for _, token := range []string{"", "not.a.jwt", "abc"} {
		_, err := svc.VerifySession(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestAction_ExpiresAfterTenMinutes(t *testing.T) {
	issuer := newTestService(t, issuedAt, false)
	token, err := issuer.IssueAction(9, PurposeVerifyEmail)
	require.NoError(t, err)

	_, err = newTestService(t, issuedAt.Add(9*time.Minute), false).VerifyAction(token, PurposeVerifyEmail)
	require.NoError(t, err)

	_, err = newTestService(t, issuedAt.Add(11*time.Minute), false).VerifyAction(token, PurposeVerifyEmail)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAction_UnboundTokensAreInterchangeable(t *testing.T) {
	svc := newTestService(t, issuedAt, false)
	token, err := svc.IssueAction(9, PurposeVerifyEmail)
	require.NoError(t, err)

	claims, err := svc.VerifyAction(token, PurposeResetPassword)
	require.NoError(t, err)
	assert.Equal(t, 9, claims.UserID)
	assert.Empty(t, claims.Purpose)
}

func TestAction_BoundTokensRejectOtherPurpose(t *testing.T) {
	svc := newTestService(t, issuedAt, true)
	token, err := svc.IssueAction(9, PurposeVerifyEmail)
	require.NoError(t, err)

	claims, err := svc.VerifyAction(token, PurposeVerifyEmail)
	require.NoError(t, err)
	assert.Equal(t, PurposeVerifyEmail, claims.Purpose)

	_, err = svc.VerifyAction(token, PurposeResetPassword)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSession_ZeroUserIDRejected(t *testing.T) {
	svc := newTestService(t, issuedAt, false)
	token, _, err := svc.IssueSession(0, "ghost")
	require.NoError(t, err)

	_, err = svc.VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	for _, bind := range []bool{false, true} {
		svc := newTestService(t, issuedAt, bind)

		action, err := svc.IssueAction(7, PurposeVerifyEmail)
		require.NoError(t, err)
		_, err = svc.VerifySession(action)
		assert.ErrorIs(t, err, ErrInvalidToken, "bind=%v", bind)

		session, _, err := svc.IssueSession(7, "Ada")
		require.NoError(t, err)
		_, err = svc.VerifyAction(session, PurposeVerifyEmail)
		assert.ErrorIs(t, err, ErrInvalidToken, "bind=%v", bind)
	}
}

func TestSession_UntypedClaimsRejected(t *testing.T) {
	svc := newTestService(t, issuedAt, false)
	legacy := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   7,
		"name": "Ada",
		"exp":  issuedAt.Add(time.Hour).Unix(),
	})
	token, err := legacy.SignedString([]byte("super-secret"))
	require.NoError(t, err)

	_, err = svc.VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
