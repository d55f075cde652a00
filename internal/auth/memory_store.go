package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryStore provides an in-memory implementation of the Store interface,
// intended for development and testing scenarios.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Subject
}

// NewMemoryStore initialises the store with the provided seed keys.
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{byHash: make(map[string]*Subject)}
	for _, seed := range seeds {
		if err := store.ApplySeed(context.Background(), seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplySeed implements the SeedWriter interface.
func (s *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	key := strings.TrimSpace(seed.Key)
	if key == "" {
		return errors.New("seed key cannot be empty")
	}
	subject := &Subject{
		Name:     strings.TrimSpace(seed.Name),
		ClientID: strings.TrimSpace(seed.ClientID),
		Scopes:   dedupeStrings(seed.Scopes),
		Disabled: seed.Disabled,
	}
	subject.normalise()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byHash == nil {
		s.byHash = make(map[string]*Subject)
	}
	s.byHash[HashKey(key)] = subject
	return nil
}

// FindByHash retrieves the subject bound to the key digest.
func (s *MemoryStore) FindByHash(_ context.Context, keyHash string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.byHash[keyHash]; ok {
		return subject.Clone(), nil
	}
	return nil, ErrInvalidKey
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

var _ Store = (*MemoryStore)(nil)
var _ SeedWriter = (*MemoryStore)(nil)
