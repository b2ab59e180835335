package domain

import (
	"errors"
	"time"
)

// Role is the authorization tier of a user. There is exactly one elevated
// tier; no finer granularity exists.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Username policy bounds. Validation gates account creation only; records
// that predate validation still load and authenticate.
const (
	UsernameMinLen = 4
	UsernameMaxLen = 20
	PasswordMinLen = 6
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrPasswordPolicy     = errors.New("password does not meet policy")
	ErrInvalidToken       = errors.New("invalid token")
	ErrLastAdmin          = errors.New("cannot remove the last active admin")
)

// User is one registered identity. The username is the immutable,
// case-sensitive identity key; everything else is mutable security state.
// An empty Salt marks a digest produced by the legacy unsalted scheme; a
// successful legacy verification upgrades the record in place.
type User struct {
	Username       string
	PasswordHash   string
	Salt           string
	Role           Role
	Active         bool
	UsingDefault   bool
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	LastLogin      *time.Time
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// LockExpiredAt reports whether a past lockout window should be healed.
func (u *User) LockExpiredAt(now time.Time) bool {
	return u.LockedUntil != nil && !now.Before(*u.LockedUntil)
}

// ClearLock resets the lockout window and the failure counter together.
func (u *User) ClearLock() {
	u.LockedUntil = nil
	u.FailedAttempts = 0
}

// Outcome classifies the result of an authentication attempt.
type Outcome string

const (
	OutcomeSuccess                Outcome = "success"
	OutcomeInvalidCredentials     Outcome = "invalid_credentials"
	OutcomeAccountDisabled        Outcome = "account_disabled"
	OutcomeAccountLocked          Outcome = "account_locked"
	OutcomePasswordChangeRequired Outcome = "password_change_required"
	OutcomeInvalidUsername        Outcome = "invalid_username"
)

// Authenticated reports whether the outcome grants access.
// PasswordChangeRequired is a soft success: the caller must route the user
// into a mandatory rotation flow rather than deny access.
func (o Outcome) Authenticated() bool {
	return o == OutcomeSuccess || o == OutcomePasswordChangeRequired
}

// AuthResult is what the policy engine returns for every attempt. Message is
// safe to show to the end user as-is.
type AuthResult struct {
	Outcome Outcome
	Message string
	Role    Role
}

// SessionStatus is the revalidator's verdict on an existing session.
// Valid == false obliges the caller to terminate the session immediately.
type SessionStatus struct {
	Valid   bool
	Message string
	Role    Role
}
