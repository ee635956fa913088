package store

import (
	"fmt"
	"sort"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// MemoryStore provides an in-memory CredentialStore. Nothing survives Close.
// It mirrors the persistent stores' validation and duplicate handling.
type MemoryStore struct {
	opts  options
	users map[string]string // username -> bcrypt hash
}

// NewMemory creates an empty MemoryStore.
func NewMemory(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:  defaultOptions(opts),
		users: make(map[string]string),
	}
}

// Register stores a new credential.
func (s *MemoryStore) Register(username, password string) (bool, error) {
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
	return true, nil
}

// Authenticate checks a password against the stored hash.
func (s *MemoryStore) Authenticate(username, password string) (bool, error) {
	hash, ok := s.users[username]
	if !ok {
		return false, nil
	}
	return crypto.CheckPassword(hash, password), nil
}

// Usernames returns every registered username in sorted order.
func (s *MemoryStore) Usernames() ([]string, error) {
	return sortedKeys(s.users), nil
}

// Count returns the number of stored credentials.
func (s *MemoryStore) Count() (int, error) {
	return len(s.users), nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
