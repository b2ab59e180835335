package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lernquiz/account-system/internal/core/domain"
	"github.com/lernquiz/account-system/internal/core/ports"
	"github.com/lernquiz/account-system/internal/metrics"
)

const bootstrapAdminUsername = "admin"

// AuditSink receives security-relevant events. Implementations must not
// block the caller.
type AuditSink interface {
	Record(username, action, outcome, detail string)
}

// AccountOptions carries the policy constants. Zero values fall back to the
// canonical contract: 5 attempts, 30 minute lockout.
type AccountOptions struct {
	// DefaultPassword is the shared first-contact password.
	DefaultPassword string
	// BootstrapPassword seeds the synthesized admin when no active admin
	// exists at startup.
	BootstrapPassword string
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// AccountService implements the account lifecycle rules on top of the user
// record store. Every mutation runs inside the repository's serialized
// load-mutate-save critical section, so concurrent administrative actions
// cannot overwrite each other's records.
type AccountService struct {
	repo      ports.UserRepository
	denylist  ports.Denylist
	hasher    *PasswordHasher
	usernames *UsernameValidator
	opts      AccountOptions
	audit     AuditSink
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAccountService wires the policy engine. audit may be nil.
func NewAccountService(repo ports.UserRepository, denylist ports.Denylist, hasher *PasswordHasher, usernames *UsernameValidator, opts AccountOptions, audit AuditSink, logger zerolog.Logger) *AccountService {
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = 30 * time.Minute
	}
	return &AccountService{
		repo:      repo,
		denylist:  denylist,
		hasher:    hasher,
		usernames: usernames,
		opts:      opts,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// Bootstrap synthesizes an active admin account when none exists, so the
// system is never unreachable at first start. It must run before the first
// request is served.
func (s *AccountService) Bootstrap(ctx context.Context) error {
	return s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		if activeAdmins(users) > 0 {
			return nil
		}
		digest, salt, err := s.hasher.Hash(s.opts.BootstrapPassword, "")
		if err != nil {
			return err
		}
		users[bootstrapAdminUsername] = &domain.User{
			Username:     bootstrapAdminUsername,
			PasswordHash: digest,
			Salt:         salt,
			Role:         domain.RoleAdmin,
			Active:       true,
			CreatedAt:    s.now().UTC(),
		}
		metrics.UsersCreatedTotal.WithLabelValues("bootstrap").Inc()
		s.logger.Warn().Str("username", bootstrapAdminUsername).Msg("no active admin found, bootstrap admin synthesized")
		return nil
	})
}

// Authenticate evaluates one login attempt and returns the outcome together
// with a message safe to show to the end user.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (domain.AuthResult, error) {
	var res domain.AuthResult
	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		var err error
		res, err = s.evaluate(users, username, password)
		return err
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("save").Inc()
		return domain.AuthResult{}, fmt.Errorf("authenticate %q: %w", username, err)
	}

	metrics.LoginsTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.record(username, "authenticate", string(res.Outcome), res.Message)
	s.logger.Info().Str("username", username).Str("outcome", string(res.Outcome)).Msg("authentication attempt")
	return res, nil
}

func (s *AccountService) evaluate(users map[string]*domain.User, username, password string) (domain.AuthResult, error) {
	now := s.now()

	u, known := users[username]
	if !known {
		allowed, reason, err := s.usernames.IsAllowed(username)
		if err != nil {
			return domain.AuthResult{}, err
		}
		if !allowed {
			return domain.AuthResult{Outcome: domain.OutcomeInvalidUsername, Message: reason}, nil
		}
		// Unknown usernames are only ever created through the shared
		// default password, never from an arbitrary one.
		if password != s.opts.DefaultPassword {
			return domain.AuthResult{
				Outcome: domain.OutcomeInvalidCredentials,
				Message: "new accounts must sign in with the default password first",
			}, nil
		}
		digest, salt, err := s.hasher.Hash(password, "")
		if err != nil {
			return domain.AuthResult{}, err
		}
		users[username] = &domain.User{
			Username:     username,
			PasswordHash: digest,
			Salt:         salt,
			Role:         domain.RoleUser,
			Active:       true,
			UsingDefault: true,
			CreatedAt:    now.UTC(),
		}
		metrics.UsersCreatedTotal.WithLabelValues("auto").Inc()
		return domain.AuthResult{
			Outcome: domain.OutcomePasswordChangeRequired,
			Message: "account created, please choose a new password",
			Role:    domain.RoleUser,
		}, nil
	}

	if !u.Active {
		return domain.AuthResult{Outcome: domain.OutcomeAccountDisabled, Message: "this account has been deactivated"}, nil
	}

	// Lockouts heal lazily: an expired window is cleared on the next
	// attempt, before that attempt is evaluated.
	if u.LockExpiredAt(now) {
		u.ClearLock()
	}
	if u.LockedAt(now) {
		minutes := int(math.Ceil(u.LockedUntil.Sub(now).Minutes()))
		return domain.AuthResult{
			Outcome: domain.OutcomeAccountLocked,
			Message: fmt.Sprintf("account is locked for another %d minutes", minutes),
		}, nil
	}

	valid := s.hasher.Verify(password, u.PasswordHash, u.Salt)
	if valid && u.Salt == "" {
		// Transparent upgrade from the legacy unsalted digest.
		digest, salt, err := s.hasher.Hash(password, "")
		if err != nil {
			return domain.AuthResult{}, err
		}
		u.PasswordHash, u.Salt = digest, salt
	}

	// Presenting the default password against a record not flagged as
	// using it is the accepted reset-to-default path.
	if !valid && password == s.opts.DefaultPassword && !u.UsingDefault {
		digest, salt, err := s.hasher.Hash(password, "")
		if err != nil {
			return domain.AuthResult{}, err
		}
		u.PasswordHash, u.Salt = digest, salt
		u.UsingDefault = true
		valid = true
	}

	if !valid {
		u.FailedAttempts++
		if u.FailedAttempts >= s.opts.MaxFailedAttempts {
			until := now.Add(s.opts.LockoutDuration)
			u.LockedUntil = &until
			metrics.LockoutsTotal.Inc()
			return domain.AuthResult{
				Outcome: domain.OutcomeAccountLocked,
				Message: fmt.Sprintf("too many failed attempts, account locked for %d minutes", int(s.opts.LockoutDuration.Minutes())),
			}, nil
		}
		remaining := s.opts.MaxFailedAttempts - u.FailedAttempts
		return domain.AuthResult{
			Outcome: domain.OutcomeInvalidCredentials,
			Message: fmt.Sprintf("invalid credentials, %d attempts remaining", remaining),
		}, nil
	}

	u.ClearLock()
	login := now.UTC()
	u.LastLogin = &login

	if u.UsingDefault {
		return domain.AuthResult{
			Outcome: domain.OutcomePasswordChangeRequired,
			Message: "please choose a new password",
			Role:    u.Role,
		}, nil
	}
	msg := fmt.Sprintf("welcome back, %s", username)
	if u.Role == domain.RoleAdmin {
		msg = fmt.Sprintf("welcome to the admin panel, %s", username)
	}
	return domain.AuthResult{Outcome: domain.OutcomeSuccess, Message: msg, Role: u.Role}, nil
}

// ChangePassword rotates a user's password. The old-password check is waived
// while the record is still on the shared default password.
func (s *AccountService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if newPassword != s.opts.DefaultPassword && len(newPassword) < domain.PasswordMinLen {
		return fmt.Errorf("%w: password must have at least %d characters", domain.ErrPasswordPolicy, domain.PasswordMinLen)
	}

	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		u, ok := users[username]
		if !ok {
			return domain.ErrUserNotFound
		}
		if !u.Active {
			return domain.ErrAccountDisabled
		}
		if !u.UsingDefault && !s.hasher.Verify(oldPassword, u.PasswordHash, u.Salt) {
			return domain.ErrInvalidCredentials
		}
		digest, salt, err := s.hasher.Hash(newPassword, "")
		if err != nil {
			return err
		}
		u.PasswordHash, u.Salt = digest, salt
		u.UsingDefault = false
		return nil
	})
	if err != nil {
		return err
	}

	metrics.PasswordRotationsTotal.Inc()
	s.record(username, "change_password", "success", "")
	s.logger.Info().Str("username", username).Msg("password changed")
	return nil
}

// CreateUser explicitly registers an account on the default password with a
// mandatory rotation flag.
func (s *AccountService) CreateUser(ctx context.Context, username string, role domain.Role) error {
	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		if _, exists := users[username]; exists {
			return domain.ErrUserExists
		}
		allowed, reason, err := s.usernames.IsAllowed(username)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s", domain.ErrInvalidUsername, reason)
		}
		digest, salt, err := s.hasher.Hash(s.opts.DefaultPassword, "")
		if err != nil {
			return err
		}
		users[username] = &domain.User{
			Username:     username,
			PasswordHash: digest,
			Salt:         salt,
			Role:         role,
			Active:       true,
			UsingDefault: true,
			CreatedAt:    s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.UsersCreatedTotal.WithLabelValues("admin").Inc()
	s.record(username, "create_user", "success", string(role))
	return nil
}

// SetActive toggles the account gate. Deactivating the last active admin is
// refused so the system cannot lock itself out.
func (s *AccountService) SetActive(ctx context.Context, username string, active bool) error {
	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		u, ok := users[username]
		if !ok {
			return domain.ErrUserNotFound
		}
		if !active && u.Active && u.Role == domain.RoleAdmin && activeAdmins(users) == 1 {
			return domain.ErrLastAdmin
		}
		u.Active = active
		return nil
	})
	if err != nil {
		return err
	}
	s.record(username, "set_active", "success", fmt.Sprintf("active=%t", active))
	return nil
}

// SetRole promotes or demotes a user. Demoting the last active admin is
// refused.
func (s *AccountService) SetRole(ctx context.Context, username string, role domain.Role) error {
	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		u, ok := users[username]
		if !ok {
			return domain.ErrUserNotFound
		}
		if role != domain.RoleAdmin && u.Role == domain.RoleAdmin && u.Active && activeAdmins(users) == 1 {
			return domain.ErrLastAdmin
		}
		u.Role = role
		return nil
	})
	if err != nil {
		return err
	}
	s.record(username, "set_role", "success", string(role))
	return nil
}

// Unlock clears a lockout window and the failure counter ahead of expiry.
func (s *AccountService) Unlock(ctx context.Context, username string) error {
	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		u, ok := users[username]
		if !ok {
			return domain.ErrUserNotFound
		}
		u.ClearLock()
		return nil
	})
	if err != nil {
		return err
	}
	s.record(username, "unlock", "success", "")
	return nil
}

// Delete removes the record and appends the username to the denylist,
// permanently retiring the identity. The denylist append happens inside the
// critical section: if it fails, the record survives.
func (s *AccountService) Delete(ctx context.Context, username string) error {
	err := s.repo.Mutate(ctx, func(users map[string]*domain.User) error {
		u, ok := users[username]
		if !ok {
			return domain.ErrUserNotFound
		}
		if u.Role == domain.RoleAdmin && u.Active && activeAdmins(users) == 1 {
			return domain.ErrLastAdmin
		}
		if err := s.denylist.Append(username); err != nil {
			return fmt.Errorf("retire username: %w", err)
		}
		delete(users, username)
		return nil
	})
	if err != nil {
		return err
	}
	s.record(username, "delete", "success", "username retired")
	s.logger.Info().Str("username", username).Msg("user deleted and username retired")
	return nil
}

// ListUsers returns a fresh snapshot of every record for administrative
// listings.
func (s *AccountService) ListUsers(ctx context.Context) (map[string]*domain.User, error) {
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("load").Inc()
		return nil, err
	}
	return users, nil
}

func (s *AccountService) record(username, action, outcome, detail string) {
	if s.audit != nil {
		s.audit.Record(username, action, outcome, detail)
	}
}

func activeAdmins(users map[string]*domain.User) int {
	n := 0
	for _, u := range users {
		if u.Role == domain.RoleAdmin && u.Active {
			n++
		}
	}
	return n
}
