// Package metrics defines all custom Prometheus metrics for the account
// system. It is the single source of truth for metric names, labels, and
// help strings; collectors register themselves with the default registry at
// import time via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "accounts"

// LoginsTotal counts authentication attempts by final outcome.
// Label:
//   - outcome: "success", "invalid_credentials", "account_disabled",
//     "account_locked", "password_change_required", "invalid_username"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of authentication attempts, by outcome.",
	},
	[]string{"outcome"},
)

// LockoutsTotal counts accounts entering the locked state.
var LockoutsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lockouts_total",
		Help:      "Total number of accounts locked after repeated failures.",
	},
)

// PasswordRotationsTotal counts successful password changes.
var PasswordRotationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "password_rotations_total",
		Help:      "Total number of successful password changes.",
	},
)

// UsersCreatedTotal counts new records by how they came to exist.
// Label:
//   - origin: "auto" (first contact with the default password),
//     "admin" (explicit create), or "bootstrap" (synthesized admin)
var UsersCreatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_created_total",
		Help:      "Total number of user records created, by origin.",
	},
	[]string{"origin"},
)

// StoreErrorsTotal counts persistence failures surfaced to callers.
// Label:
//   - op: "load" or "save"
var StoreErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Total number of user store failures, by operation.",
	},
	[]string{"op"},
)
