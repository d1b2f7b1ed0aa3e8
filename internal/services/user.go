package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quill-blog/apiserver/internal/apperror"
	"github.com/quill-blog/apiserver/internal/store"
	"github.com/quill-blog/apiserver/internal/tokens"
	"github.com/quill-blog/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost        = 10
	minPasswordLength = 6
	maxAvatarBytes    = 500_000
)

const (
	msgFillAllFields     = "Fill in all fields."
	msgEmailExists       = "Email already exists."
	msgPasswordTooShort  = "Password should contain at least 6 characters."
	msgPasswordsMismatch = "Passwords do not match."
	msgInvalidCreds      = "Invalid credentials."
	msgVerifyEmail       = "Please verify your email."
	msgUnknownUser       = "User doesn't exist."
	msgUserNotFound      = "User not found."
	msgLinkNotSent       = "Link cannot be sent."
	msgMailSent          = "Mail sent"
	msgInvalidToken      = "Unauthorized. Invalid token"
	msgChooseImage       = "Please choose an image."
	msgAvatarTooBig      = "Profile picture too big. Should be less than 500kb."
	msgFillAllDetails    = "Fill in all details."
	msgNewPasswordsDiff  = "New passwords do not match."
	msgBadCurrentPass    = "Invalid current password."
	msgUnknownError      = "An unknown error occurred"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	AdjustPostCount(ctx context.Context, id int, delta int) error
}

// PostCounter reports the live number of posts per creator.
type PostCounter interface {
	CountByCreators(ctx context.Context) (map[int]int, error)
}

// MediaHost stores images and returns their public URL.
type MediaHost interface {
	Upload(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// TokenIssuer signs and checks session and action tokens.
type TokenIssuer interface {
	IssueSession(userID int, name string) (string, time.Time, error)
	IssueAction(userID int, purpose tokens.Purpose) (string, error)
	VerifyAction(token string, purpose tokens.Purpose) (tokens.ActionClaims, error)
}

// AccountMailer sends the emails that carry action links.
type AccountMailer interface {
	SendVerification(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

type RegisterInput struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}

type LoginInput struct {
	Email    string
	Password string
}

type ResetPasswordInput struct {
	Token                string
	Password             string
	PasswordConfirmation string
}

type EditProfileInput struct {
	Name                    string
	Email                   string
	CurrentPassword         string
	NewPassword             string
	NewPasswordConfirmation string
}

// AccountService encapsulates registration, login and profile use-cases.
type AccountService struct {
	users   UserRepository
	media   MediaHost
	tokens  TokenIssuer
	mailer  AccountMailer
	logger  *slog.Logger
	counter PostCounter
}

type AccountOption func(*AccountService)

// WithPostCountsFrom makes profile reads compute post_count from counter
// instead of trusting the stored column.
func WithPostCountsFrom(counter PostCounter) AccountOption {
	return func(s *AccountService) {
		s.counter = counter
	}
}

func NewAccountService(
	users UserRepository,
	media MediaHost,
	tokenIssuer TokenIssuer,
	mailer AccountMailer,
	logger *slog.Logger,
	opts ...AccountOption,
) *AccountService {
	s := &AccountService{
		users:  users,
		media:  media,
		tokens: tokenIssuer,
		mailer: mailer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an unverified account and returns an acknowledgment.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (string, error) {
	if isBlank(in.Name) || isBlank(in.Email) || in.Password == "" || in.PasswordConfirmation == "" {
		return "", apperror.Validation(msgFillAllFields)
	}

	email := store.NormalizeEmail(in.Email)
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return "", apperror.Validation(msgEmailExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", s.internal(ctx, "lookup email", err)
	}

	if len(strings.TrimSpace(in.Password)) < minPasswordLength {
		return "", apperror.Validation(msgPasswordTooShort)
	}
	if in.Password != in.PasswordConfirmation {
		return "", apperror.Validation(msgPasswordsMismatch)
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return "", s.internal(ctx, "hash password", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", apperror.Validation(msgEmailExists)
		}
		return "", s.internal(ctx, "create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return fmt.Sprintf("new user %s registered", user.Email), nil
}

// Login checks the credentials of a verified user and issues a session token.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (types.Session, error) {
	if isBlank(in.Email) || in.Password == "" {
		return types.Session{}, apperror.Validation(msgFillAllFields)
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Session{}, apperror.Auth(msgInvalidCreds)
		}
		return types.Session{}, s.internal(ctx, "lookup email", err)
	}
	if !user.Verified {
		return types.Session{}, apperror.Auth(msgVerifyEmail)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		return types.Session{}, apperror.Auth(msgInvalidCreds)
	}

	token, expiresAt, err := s.tokens.IssueSession(user.ID, user.Name)
	if err != nil {
		return types.Session{}, s.internal(ctx, "issue session", err)
	}
	return types.Session{
		Token:     token,
		ID:        user.ID,
		Name:      user.Name,
		ExpiresAt: expiresAt,
	}, nil
}

// RequestEmailVerification mails a verification link to a known address.
func (s *AccountService) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	return s.sendActionLink(ctx, email, tokens.PurposeVerifyEmail, s.mailer.SendVerification)
}

// RequestPasswordReset mails a password reset link to a known address.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return s.sendActionLink(ctx, email, tokens.PurposeResetPassword, s.mailer.SendPasswordReset)
}

func (s *AccountService) sendActionLink(
	ctx context.Context,
	email string,
	purpose tokens.Purpose,
	send func(ctx context.Context, to, token string) error,
) (string, error) {
	if isBlank(email) {
		return "", apperror.Validation(msgFillAllFields)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperror.NotFound(msgUnknownUser)
		}
		return "", s.internal(ctx, "lookup email", err)
	}

	token, err := s.tokens.IssueAction(user.ID, purpose)
	if err != nil {
		return "", s.internal(ctx, "issue action token", err)
	}
	if err := send(ctx, user.Email, token); err != nil {
		s.logger.ErrorContext(ctx, "action link not sent", "user_id", user.ID, "purpose", purpose, "error", err)
		return "", apperror.Delivery(msgLinkNotSent).Wrap(err)
	}
	return msgMailSent, nil
}

// ConfirmEmailVerification marks the token's user as verified.
func (s *AccountService) ConfirmEmailVerification(ctx context.Context, token string) (types.User, error) {
	claims, err := s.tokens.VerifyAction(token, tokens.PurposeVerifyEmail)
	if err != nil {
		return types.User{}, apperror.InvalidToken(msgInvalidToken).Wrap(err)
	}

	user, err := s.loadUser(ctx, claims.UserID)
	if err != nil {
		return types.User{}, err
	}
	user.Verified = true
	return s.save(ctx, user)
}

// ConfirmPasswordReset replaces the password of the token's user.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, in ResetPasswordInput) (types.User, error) {
	claims, err := s.tokens.VerifyAction(in.Token, tokens.PurposeResetPassword)
	if err != nil {
		return types.User{}, apperror.InvalidToken(msgInvalidToken).Wrap(err)
	}

	if in.Password == "" || in.PasswordConfirmation == "" {
		return types.User{}, apperror.Validation(msgFillAllFields)
	}
	if len(strings.TrimSpace(in.Password)) < minPasswordLength {
		return types.User{}, apperror.Validation(msgPasswordTooShort)
	}
	if in.Password != in.PasswordConfirmation {
		return types.User{}, apperror.Validation(msgPasswordsMismatch)
	}

	user, err := s.loadUser(ctx, claims.UserID)
	if err != nil {
		return types.User{}, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return types.User{}, s.internal(ctx, "hash password", err)
	}
	user.PasswordHash = hash
	return s.save(ctx, user)
}

// ChangeAvatar replaces the user's avatar with image.
func (s *AccountService) ChangeAvatar(ctx context.Context, userID int, image []byte) (types.User, error) {
	if len(image) == 0 {
		return types.User{}, apperror.Validation(msgChooseImage)
	}
	if len(image) > maxAvatarBytes {
		return types.User{}, apperror.Validation(msgAvatarTooBig)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return types.User{}, err
	}

	if user.AvatarURL != "" {
		if err := s.media.Delete(ctx, user.AvatarURL); err != nil {
			s.logger.WarnContext(ctx, "old avatar not deleted", "user_id", user.ID, "url", user.AvatarURL, "error", err)
		}
	}

	url, err := s.media.Upload(ctx, image)
	if err != nil {
		return types.User{}, s.internal(ctx, "upload avatar", err)
	}
	user.AvatarURL = url
	return s.save(ctx, user)
}

// EditProfile changes name, email and password in one write.
func (s *AccountService) EditProfile(ctx context.Context, userID int, in EditProfileInput) (types.User, error) {
	if isBlank(in.Name) || isBlank(in.Email) || in.CurrentPassword == "" || in.NewPassword == "" {
		return types.User{}, apperror.Validation(msgFillAllDetails)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return types.User{}, err
	}

	email := store.NormalizeEmail(in.Email)
	owner, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil && owner.ID != user.ID:
		return types.User{}, apperror.Conflict(msgEmailExists)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return types.User{}, s.internal(ctx, "lookup email", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)) != nil {
		return types.User{}, apperror.Auth(msgBadCurrentPass)
	}
	if in.NewPassword != in.NewPasswordConfirmation {
		return types.User{}, apperror.Validation(msgNewPasswordsDiff)
	}

	hash, err := hashPassword(in.NewPassword)
	if err != nil {
		return types.User{}, s.internal(ctx, "hash password", err)
	}
	user.Name = strings.TrimSpace(in.Name)
	user.Email = email
	user.PasswordHash = hash
	return s.save(ctx, user)
}

// GetProfile returns the user's public profile.
func (s *AccountService) GetProfile(ctx context.Context, id int) (types.User, error) {
	user, err := s.loadUser(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	return s.withPostCount(ctx, user)
}

// ListAuthors returns every user.
func (s *AccountService) ListAuthors(ctx context.Context) ([]types.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, s.internal(ctx, "list users", err)
	}
	if s.counter == nil {
		return users, nil
	}
	counts, err := s.counter.CountByCreators(ctx)
	if err != nil {
		return nil, s.internal(ctx, "count posts", err)
	}
	for i := range users {
		users[i].PostCount = counts[users[i].ID]
	}
	return users, nil
}

func (s *AccountService) loadUser(ctx context.Context, id int) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperror.NotFound(msgUserNotFound)
		}
		return types.User{}, s.internal(ctx, "load user", err)
	}
	return user, nil
}

func (s *AccountService) save(ctx context.Context, user types.User) (types.User, error) {
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, apperror.NotFound(msgUserNotFound)
		case errors.Is(err, store.ErrConflict):
			return types.User{}, apperror.Conflict(msgEmailExists)
		}
		return types.User{}, s.internal(ctx, "update user", err)
	}
	return s.withPostCount(ctx, updated)
}

// withPostCount replaces the stored post_count with the live one when counts
// are derived from posts.
func (s *AccountService) withPostCount(ctx context.Context, user types.User) (types.User, error) {
	if s.counter == nil {
		return user, nil
	}
	counts, err := s.counter.CountByCreators(ctx)
	if err != nil {
		return types.User{}, s.internal(ctx, "count posts", err)
	}
	user.PostCount = counts[user.ID]
	return user, nil
}

func (s *AccountService) internal(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "account operation failed", "op", op, "error", err)
	return apperror.Internal(msgUnknownError, err)
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}
