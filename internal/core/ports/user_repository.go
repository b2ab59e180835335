package ports

import (
	"context"

	"github.com/lernquiz/account-system/internal/core/domain"
)

// UserRepository is the persistence boundary for user records. The durable
// store is the single source of truth; LoadAll always reflects it, never an
// in-process cache.
type UserRepository interface {
	// LoadAll returns every record keyed by username. A missing or empty
	// store yields an empty map, not an error.
	LoadAll(ctx context.Context) (map[string]*domain.User, error)
	// SaveAll durably replaces the full snapshot. Partial writes are never
	// observable as the live store.
	SaveAll(ctx context.Context, users map[string]*domain.User) error
	// Mutate runs fn inside the load-mutate-save critical section. The
	// snapshot passed to fn is fresh; returning an error aborts without
	// saving. Concurrent Mutate calls are serialized.
	Mutate(ctx context.Context, fn func(users map[string]*domain.User) error) error
}

// Denylist is the dynamic list of forbidden username substrings. Appending a
// username on deletion permanently retires that identity.
type Denylist interface {
	// Contains reports whether candidate matches any entry, case-folded,
	// by substring. The list is re-read from its backing file on every call.
	Contains(candidate string) (bool, error)
	Append(username string) error
}
