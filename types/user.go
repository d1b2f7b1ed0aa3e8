package types

import "time"

// User represents an author account.
// It contains identity, verification state, and audit metadata.
type User struct {
	// ID is the unique identifier of the user, assigned by the store.
	ID int `json:"id" db:"id"`

	// Name is the user's display name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is always stored lower-cased
	// and is unique across all users.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// AvatarURL is the media host URL of the user's avatar, if any.
	AvatarURL string `json:"avatar_url,omitempty" db:"avatar_url"`

	// Verified reports whether the user confirmed their email address.
	// Only verified users may log in.
	Verified bool `json:"verified" db:"verified"`

	// PostCount is a cached count of the posts created by the user.
	// It is maintained by explicit increments and decrements and may
	// drift from the real count under partial failures.
	PostCount int `json:"post_count" db:"post_count"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Session is returned by a successful login.
type Session struct {
	// Token is the signed bearer token to send in the Authorization header.
	Token string `json:"token"`

	// ID is the identifier of the authenticated user.
	ID int `json:"id"`

	// Name is the display name of the authenticated user.
	Name string `json:"name"`

	// ExpiresAt is the instant after which Token is rejected.
	ExpiresAt time.Time `json:"expires_at"`
}
