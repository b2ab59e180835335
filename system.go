// Package accountsystem wires the credential and account-state manager: the
// password hasher, username validator, file-backed user store, policy
// engine, session revalidator, token service and audit trail. The caller
// owns request framing entirely; this package only assembles the components
// and exposes their interfaces.
package accountsystem

import (
	"context"

	"github.com/lernquiz/account-system/internal/core/ports"
	"github.com/lernquiz/account-system/internal/core/service"
	"github.com/lernquiz/account-system/internal/infrastructure/audit"
	"github.com/lernquiz/account-system/internal/infrastructure/config"
	"github.com/lernquiz/account-system/internal/infrastructure/store/file"
	"github.com/lernquiz/account-system/pkg/logger"
)

var (
	_ ports.AccountService = (*service.AccountService)(nil)
	_ ports.StatusService  = (*service.StatusService)(nil)
	_ ports.UserRepository = (*file.UserRepository)(nil)
	_ ports.Denylist       = (*file.Denylist)(nil)
)

// System bundles the wired components.
type System struct {
	Accounts *service.AccountService
	Status   *service.StatusService
	Tokens   *service.TokenService

	audit *audit.Recorder
}

// NewFromEnv assembles a System from environment variables.
func NewFromEnv() (*System, error) {
	return New(config.Load())
}

// New assembles a System from cfg. Call Start before serving requests.
func New(cfg *config.Config) (*System, error) {
	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})

	denylist := file.NewDenylist(cfg.Store.DenylistFile, log)
	if err := denylist.Ensure(); err != nil {
		return nil, err
	}

	repo := file.NewUserRepository(cfg.Store.UsersFile, log)
	hasher := service.NewPasswordHasher(cfg.Auth.HashIterations)
	usernames := service.NewUsernameValidator(denylist)
	recorder := audit.NewRecorder(cfg.Store.AuditFile, 0, log)

	accounts := service.NewAccountService(repo, denylist, hasher, usernames, service.AccountOptions{
		DefaultPassword:   cfg.Auth.DefaultPassword,
		BootstrapPassword: cfg.Auth.BootstrapPassword,
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockoutDuration:   cfg.Auth.LockoutDuration,
	}, recorder, log)

	return &System{
		Accounts: accounts,
		Status:   service.NewStatusService(repo, log),
		Tokens:   service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		audit:    recorder,
	}, nil
}

// Start launches the audit workers and heals the admin bootstrap invariant.
// It must complete before the first request is served; workers stop when ctx
// is cancelled.
func (s *System) Start(ctx context.Context) error {
	s.audit.Start(ctx)
	return s.Accounts.Bootstrap(ctx)
}
