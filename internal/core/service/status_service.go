package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lernquiz/account-system/internal/core/domain"
	"github.com/lernquiz/account-system/internal/core/ports"
)

// StatusService re-checks an already-authenticated identity against the
// durable store. It always performs a fresh load — a concurrent
// administrative edit in another process must take effect within one round
// trip, so no cached decision can be trusted. Read-only: it never writes.
type StatusService struct {
	repo   ports.UserRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewStatusService(repo ports.UserRepository, logger zerolog.Logger) *StatusService {
	return &StatusService{repo: repo, logger: logger, now: time.Now}
}

// CheckStatus returns Valid == false when the username no longer exists, is
// inactive, or is currently locked. Callers must terminate the session on
// any false result.
func (s *StatusService) CheckStatus(ctx context.Context, username string) (domain.SessionStatus, error) {
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		return domain.SessionStatus{}, fmt.Errorf("check status %q: %w", username, err)
	}

	u, ok := users[username]
	if !ok {
		return domain.SessionStatus{Valid: false, Message: "account no longer exists"}, nil
	}
	if !u.Active {
		return domain.SessionStatus{Valid: false, Message: "account has been deactivated"}, nil
	}
	if u.LockedAt(s.now()) {
		minutes := int(math.Ceil(u.LockedUntil.Sub(s.now()).Minutes()))
		return domain.SessionStatus{
			Valid:   false,
			Message: fmt.Sprintf("account is locked for another %d minutes", minutes),
		}, nil
	}
	return domain.SessionStatus{Valid: true, Role: u.Role}, nil
}
