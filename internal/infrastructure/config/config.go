package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Store StoreConfig
	Auth  AuthConfig
}

type StoreConfig struct {
	UsersFile    string `env:"USERS_FILE,    default=./data/users.json"`
	DenylistFile string `env:"DENYLIST_FILE, default=./data/denylist.txt"`
	AuditFile    string `env:"AUDIT_FILE,    default=./data/audit.log"`
}

type AuthConfig struct {
	// DefaultPassword is the shared first-contact password. Presenting it
	// for an unknown username registers the account with a mandatory
	// rotation flag.
	DefaultPassword string `env:"DEFAULT_PASSWORD,   default=4-26-2011"`
	// BootstrapPassword seeds the synthesized admin account when the store
	// contains no active admin at startup.
	BootstrapPassword string        `env:"BOOTSTRAP_PASSWORD, default=24Lama6"`
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS, default=5"`
	LockoutDuration   time.Duration `env:"LOCKOUT_DURATION,    default=30m"`
	HashIterations    int           `env:"HASH_ITERATIONS,     default=300000"`
	JWTSecret         string        `env:"JWT_SECRET"`
	TokenTTL          time.Duration `env:"TOKEN_TTL,           default=24h"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return &cfg
}
