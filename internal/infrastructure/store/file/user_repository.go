// Package file implements the durable persistence boundary on top of a
// single JSON snapshot file plus a plain-text denylist file. The snapshot is
// replaced crash-safely (temp file, backup copy, atomic rename) and every
// load re-reads the file, never an in-process cache.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lernquiz/account-system/internal/core/domain"
)

// UserRepository stores the full user set in one JSON object keyed by
// username. Mutate serializes the whole load-mutate-save cycle under a
// single mutex, so concurrent administrative writers cannot silently drop
// each other's changes.
type UserRepository struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

func NewUserRepository(path string, log zerolog.Logger) *UserRepository {
	return &UserRepository{path: path, log: log}
}

// userRecord is the persisted shape of one record. The password and
// is_admin fields are legacy aliases accepted on load only; saves always
// write the normalized schema.
type userRecord struct {
	PasswordHash   string  `json:"password_hash,omitempty"`
	LegacyPassword string  `json:"password,omitempty"`
	Salt           string  `json:"salt"`
	Role           string  `json:"role,omitempty"`
	IsAdmin        *bool   `json:"is_admin,omitempty"`
	Active         *bool   `json:"active"`
	UsingDefault   *bool   `json:"using_default"`
	FailedAttempts int     `json:"failed_attempts"`
	CreatedAt      string  `json:"created_at,omitempty"`
	LastLogin      *string `json:"last_login"`
	LockedUntil    *string `json:"locked_until"`
}

func (r *UserRepository) LoadAll(ctx context.Context) (map[string]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *UserRepository) SaveAll(ctx context.Context, users map[string]*domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(users)
}

func (r *UserRepository) Mutate(ctx context.Context, fn func(users map[string]*domain.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(users); err != nil {
		return err
	}
	return r.saveLocked(users)
}

func (r *UserRepository) loadLocked() (map[string]*domain.User, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*domain.User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if len(data) == 0 {
		return map[string]*domain.User{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.quarantine(data, err)
		return map[string]*domain.User{}, nil
	}

	users := make(map[string]*domain.User, len(raw))
	for username, blob := range raw {
		var rec userRecord
		if err := json.Unmarshal(blob, &rec); err != nil {
			// One bad record must not poison the rest.
			r.log.Error().Err(err).Str("username", username).Msg("skipping malformed user record")
			continue
		}
		users[username] = recordToUser(username, rec)
	}
	return users, nil
}

// quarantine preserves a timestamped copy of an unreadable snapshot so the
// next save does not destroy the evidence.
func (r *UserRepository) quarantine(data []byte, cause error) {
	dst := fmt.Sprintf("%s.corrupt.%d", r.path, time.Now().Unix())
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		r.log.Error().Err(err).Str("path", dst).Msg("failed to preserve corrupt users file")
	}
	r.log.Error().Err(cause).Str("backup", dst).Msg("users file is malformed, continuing with empty set")
}

func (r *UserRepository) saveLocked(users map[string]*domain.User) error {
	out := make(map[string]userRecord, len(users))
	for username, u := range users {
		out[username] = userToRecord(u)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Keep the previous snapshot reachable as <path>.backup before the
	// live file is replaced.
	if prev, err := os.ReadFile(r.path); err == nil {
		if err := os.WriteFile(r.path+".backup", prev, 0o600); err != nil {
			r.log.Warn().Err(err).Msg("failed to refresh users backup")
		}
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace users file: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func recordToUser(username string, rec userRecord) *domain.User {
	hash := rec.PasswordHash
	if hash == "" {
		hash = rec.LegacyPassword
	}

	role := domain.RoleUser
	switch {
	case rec.Role != "":
		if rec.Role == string(domain.RoleAdmin) {
			role = domain.RoleAdmin
		}
	case rec.IsAdmin != nil && *rec.IsAdmin:
		role = domain.RoleAdmin
	}

	active := true
	if rec.Active != nil {
		active = *rec.Active
	}
	usingDefault := true
	if rec.UsingDefault != nil {
		usingDefault = *rec.UsingDefault
	}

	createdAt := parseTime(rec.CreatedAt)
	if createdAt == nil {
		now := time.Now().UTC()
		createdAt = &now
	}

	return &domain.User{
		Username:       username,
		PasswordHash:   hash,
		Salt:           rec.Salt,
		Role:           role,
		Active:         active,
		UsingDefault:   usingDefault,
		FailedAttempts: rec.FailedAttempts,
		LockedUntil:    parseTimePtr(rec.LockedUntil),
		CreatedAt:      *createdAt,
		LastLogin:      parseTimePtr(rec.LastLogin),
	}
}

func userToRecord(u *domain.User) userRecord {
	active := u.Active
	usingDefault := u.UsingDefault
	return userRecord{
		PasswordHash:   u.PasswordHash,
		Salt:           u.Salt,
		Role:           string(u.Role),
		Active:         &active,
		UsingDefault:   &usingDefault,
		FailedAttempts: u.FailedAttempts,
		CreatedAt:      u.CreatedAt.UTC().Format(time.RFC3339),
		LastLogin:      formatTimePtr(u.LastLogin),
		LockedUntil:    formatTimePtr(u.LockedUntil),
	}
}

// timeLayouts covers RFC 3339 plus the zone-less ISO-8601 stamps written by
// earlier releases.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return parseTime(*s)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
