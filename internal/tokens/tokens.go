// Package tokens issues and verifies the signed bearer tokens used for login
// sessions and for email-verification and password-reset links.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quill-blog/apiserver/config"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultActionTTL  = 10 * time.Minute
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, malformed, wrong algorithm, expired, wrong type or wrong
// purpose.
var ErrInvalidToken = errors.New("invalid token")

// Token types carried in the typ claim. A token of one type never verifies
// as the other.
const (
	typeSession = "session"
	typeAction  = "action"
)

// Purpose tells which emailed action an action token was issued for.
type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify-email"
	PurposeResetPassword Purpose = "reset-password"
)

// SessionClaims identify a logged-in user.
type SessionClaims struct {
	jwt.RegisteredClaims
	Type   string `json:"typ"`
	UserID int    `json:"id"`
	Name   string `json:"name"`
}

// ActionClaims authorize a single emailed action for a user.
// Purpose is only populated when purpose binding is enabled.
type ActionClaims struct {
	jwt.RegisteredClaims
	Type    string  `json:"typ"`
	UserID  int     `json:"id"`
	Purpose Purpose `json:"purpose,omitempty"`
}

// Service signs tokens with HS256. It keeps no state besides its settings.
type Service struct {
	secret      []byte
	sessionTTL  time.Duration
	actionTTL   time.Duration
	bindPurpose bool
	now         func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(cfg config.TokenConfig, opts ...Option) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token secret is required")
	}

	s := &Service{
		secret:      []byte(secret),
		sessionTTL:  cfg.SessionTTL,
		actionTTL:   cfg.ActionTTL,
		bindPurpose: cfg.BindPurpose,
		now:         time.Now,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.actionTTL <= 0 {
		s.actionTTL = DefaultActionTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueSession signs a session token for the user and returns it with its expiry.
func (s *Service) IssueSession(userID int, name string) (string, time.Time, error) {
	registered := s.registeredClaims(s.sessionTTL)
	claims := SessionClaims{
		RegisteredClaims: registered,
		Type:             typeSession,
		UserID:           userID,
		Name:             name,
	}
	token, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, registered.ExpiresAt.Time, nil
}

// VerifySession checks signature and expiry and returns the session claims.
func (s *Service) VerifySession(tokenString string) (SessionClaims, error) {
	var claims SessionClaims
	if err := s.parse(tokenString, &claims); err != nil {
		return SessionClaims{}, err
	}
	if claims.Type != typeSession || claims.UserID < 1 {
		return SessionClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueAction signs a short-lived token for an emailed action.
func (s *Service) IssueAction(userID int, purpose Purpose) (string, error) {
	claims := ActionClaims{
		RegisteredClaims: s.registeredClaims(s.actionTTL),
		Type:             typeAction,
		UserID:           userID,
	}
	if s.bindPurpose {
		claims.Purpose = purpose
	}
	return s.sign(claims)
}

// VerifyAction checks signature and expiry of an action token. The purpose is
// only compared when binding is enabled; otherwise verification and reset
// tokens are accepted interchangeably.
func (s *Service) VerifyAction(tokenString string, purpose Purpose) (ActionClaims, error) {
	var claims ActionClaims
	if err := s.parse(tokenString, &claims); err != nil {
		return ActionClaims{}, err
	}
	if claims.Type != typeAction || claims.UserID < 1 {
		return ActionClaims{}, ErrInvalidToken
	}
	if s.bindPurpose && claims.Purpose != purpose {
		return ActionClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) registeredClaims(ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Service) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims) error {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
