package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// FileStore keeps credentials in a JSON object file mapping username to
// bcrypt hash. The whole file is loaded at startup and rewritten after every
// successful registration.
//
// Rewrites go to a temporary file in the same directory which is synced and
// then renamed over the original, so a crash mid-write leaves either the old
// or the new mapping on disk, never a truncated one.
type FileStore struct {
	path  string
	opts  options
	users map[string]string
}

// NewFileStore loads the credential file at path. A missing or empty file
// yields an empty store; the file is created on the first registration.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		opts:  defaultOptions(opts),
		users: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.opts.logger.Info("loaded credentials", "path", path, "count", len(s.users))
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path) //nolint:gosec // path from server config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	if s.users == nil {
		s.users = make(map[string]string)
	}
	// Unreadable records are kept: they never authenticate, but the name
	// stays taken and the record is written back unchanged.
	for name, hash := range s.users {
		if !crypto.IsHash(hash) {
			s.opts.logger.Warn("credential has an unreadable hash", "path", s.path, "user", name)
		}
	}
	return nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

// Register stores a new credential and rewrites the file. If the rewrite
// fails the registration is rolled back and the error returned.
func (s *FileStore) Register(username, password string) (bool, error) {
	if err := model.ValidateCredentials(username, password); err != nil {
		return false, fmt.Errorf("store: register: %w", err)
	}
	if _, exists := s.users[username]; exists {
		return false, nil
	}
	hash, err := crypto.HashPassword(password, s.opts.hashCost)
	if err != nil {
		return false, fmt.Errorf("store: register: %w", err)
	}

	s.users[username] = hash
	if err := s.save(); err != nil {
		delete(s.users, username)
		return false, err
	}
	return true, nil
}

// Authenticate checks a password against the stored hash.
func (s *FileStore) Authenticate(username, password string) (bool, error) {
	hash, ok := s.users[username]
	if !ok {
		return false, nil
	}
	return crypto.CheckPassword(hash, password), nil
}

// Usernames returns every registered username in sorted order.
func (s *FileStore) Usernames() ([]string, error) {
	return sortedKeys(s.users), nil
}

// Count returns the number of stored credentials.
func (s *FileStore) Count() (int, error) {
	return len(s.users), nil
}

// Close is a no-op; every registration is already on disk.
func (s *FileStore) Close() error {
	return nil
}
