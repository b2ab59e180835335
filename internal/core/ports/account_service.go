package ports

import (
	"context"

	"github.com/lernquiz/account-system/internal/core/domain"
)

// AccountService owns the account lifecycle rules layered on top of the
// record store: auto-registration, lockout, forced rotation, role changes.
type AccountService interface {
	Bootstrap(ctx context.Context) error
	Authenticate(ctx context.Context, username, password string) (domain.AuthResult, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error

	CreateUser(ctx context.Context, username string, role domain.Role) error
	SetActive(ctx context.Context, username string, active bool) error
	SetRole(ctx context.Context, username string, role domain.Role) error
	Unlock(ctx context.Context, username string) error
	Delete(ctx context.Context, username string) error
	ListUsers(ctx context.Context) (map[string]*domain.User, error)
}

// StatusService is the pull-based liveness gate callers must consult on
// every sensitive operation performed by an existing session.
type StatusService interface {
	CheckStatus(ctx context.Context, username string) (domain.SessionStatus, error)
}
