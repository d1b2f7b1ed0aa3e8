package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/quill-blog/apiserver/internal/apperror"
	"github.com/quill-blog/apiserver/internal/tokens"
)

var (
	errNoToken      = apperror.Unauthorized("Unauthorized. No token")
	errInvalidToken = apperror.InvalidToken("Unauthorized. Invalid token")
)

// SessionVerifier validates session tokens.
type SessionVerifier interface {
	VerifySession(token string) (tokens.SessionClaims, error)
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	ID   int
	Name string
}

// RequireAuth rejects requests without a valid bearer session token and
// stores the caller's Identity in the request context.
func RequireAuth(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, errNoToken)
				return
			}

			claims, err := verifier.VerifySession(tokenString)
			if err != nil {
				writeError(w, errInvalidToken)
				return
			}

			identity := Identity{ID: claims.UserID, Name: claims.Name}
			ctx := context.WithValue(r.Context(), contextIdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the caller stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(Identity)
	return identity, ok && identity.ID > 0
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// callerID reads the identity set by RequireAuth. Routes mounted without the
// gate get a 401.
func callerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, errNoToken)
		return 0, false
	}
	return identity.ID, true
}
