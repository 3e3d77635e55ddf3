package model

import "time"

// User is the public profile of an account as returned by GET /me/.  The
// client keeps a cached read-only copy of it next to the token pair; the
// server builds it from the `users` table and never includes the password
// hash.
//
// Fields:
//  ID         – primary key identifier.
//  Username   – unique login name.
//  Email      – contact address used for password reset mail.
//  FirstName  – optional given name.
//  LastName   – optional family name.
//  IsStaff    – back-office flag; staff may manage products and order status.
//  DateJoined – account creation timestamp.
type User struct {
	ID         uint64    `json:"id"`          // users.id
	Username   string    `json:"username"`    // users.username
	Email      string    `json:"email"`       // users.email
	FirstName  string    `json:"first_name"`  // users.first_name
	LastName   string    `json:"last_name"`   // users.last_name
	IsStaff    bool      `json:"is_staff"`    // users.is_staff
	DateJoined time.Time `json:"date_joined"` // users.date_joined
}

// TokenPair is the credential pair returned by POST /token/.  Access is a
// short-lived JWT sent as a bearer token; Refresh is a long-lived opaque
// secret that can only be exchanged for a new access token.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginRequest is the body of POST /token/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /token/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse is returned by POST /token/refresh/.  The refresh token
// is not rotated, so only a new access token comes back.
type RefreshResponse struct {
	Access string `json:"access"`
}

// RegisterRequest is the body of POST /register/.  PasswordConfirm must
// equal Password.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
}

// RegisterResponse is returned by POST /register/ on success.
type RegisterResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

// PasswordResetRequest starts the reset flow for the account owning Email.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirm completes the reset flow with the mailed token.
type PasswordResetConfirm struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}
