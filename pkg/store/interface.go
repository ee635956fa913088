// Package store provides the persistent username -> password-hash mapping
// used for login and registration.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
)

// CredentialStore defines the credential persistence interface.
// Implementations include a JSON file (the default), SQLite, Redis, and an
// in-memory store for tests.
//
// The file and memory stores do no internal locking: the relay's dispatch
// loop is their only caller.
type CredentialStore interface {
	// Register stores a new credential. It returns false, with a nil error,
	// if the username already exists. Invalid usernames or passwords are
	// rejected with a model validation error.
	Register(username, password string) (bool, error)

	// Authenticate reports whether password matches the stored hash for
	// username. Unknown usernames do not match.
	Authenticate(username, password string) (bool, error)

	// Usernames returns every registered username in sorted order.
	Usernames() ([]string, error)

	// Count returns the number of stored credentials.
	Count() (int, error)

	// Close releases the underlying storage.
	Close() error
}

// Compile-time checks.
var (
	_ CredentialStore = (*FileStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
	_ CredentialStore = (*SQLiteStore)(nil)
	_ CredentialStore = (*RedisStore)(nil)
)

var ErrUnknownBackend = errors.New("store: unknown backend")

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and locates a credential backend.
type Config struct {
	Backend  string `yaml:"backend"`   // file, sqlite, redis or memory
	Path     string `yaml:"path"`      // JSON file or SQLite database path
	RedisURL string `yaml:"redis_url"` // e.g. redis://localhost:6379/0
}

// Validate checks that the backend is known and has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("store: %s backend requires a path", c.Backend)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("store: redis backend requires redis_url")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}

// Open creates the credential store described by cfg.
func Open(cfg Config, opts ...Option) (CredentialStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		st  CredentialStore
		err error
	)
	switch cfg.Backend {
	case BackendSQLite:
		st, err = NewSQLiteStore(cfg.Path, opts...)
	case BackendRedis:
		st, err = NewRedisStore(cfg.RedisURL, opts...)
	case BackendMemory:
		st = NewMemory(opts...)
	default:
		st, err = NewFileStore(cfg.Path, opts...)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Option configures a credential store.
type Option func(*options)

type options struct {
	hashCost int
	logger   *slog.Logger
}

func defaultOptions(opts []Option) options {
	o := options{
		hashCost: crypto.DefaultCost,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHashCost sets the bcrypt work factor for newly registered passwords.
func WithHashCost(cost int) Option {
	return func(o *options) { o.hashCost = cost }
}

// WithLogger sets the logger used for load and persist events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
