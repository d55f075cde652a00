package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled    = errors.New("authentication disabled")
	ErrMissingKey  = errors.New("missing api key")
	ErrInvalidKey  = errors.New("invalid api key")
	ErrKeyRevoked  = errors.New("api key is disabled")
	ErrScopeDenied = errors.New("scope denied")
)

// Store abstracts the persistent API key catalogue used by the authentication
// service. Implementations must be safe for concurrent use.
type Store interface {
	FindByHash(ctx context.Context, keyHash string) (*Subject, error)
}

// SeedWriter is implemented by stores that can upsert seed keys for
// bootstrapping.
type SeedWriter interface {
	ApplySeed(ctx context.Context, seed Seed) error
}

// Subject captures the caller identity resolved from an API key and passed to
// request handlers via context.
type Subject struct {
	Name     string
	ClientID string
	Scopes   []string
	Disabled bool

	scopeSet map[string]struct{}
}

// normalise prepares the lookup set for scope checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.scopeSet == nil {
		s.scopeSet = make(map[string]struct{}, len(s.Scopes))
		for _, scope := range s.Scopes {
			s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// Normalise ensures internal caches are populated for exported use cases.
func (s *Subject) Normalise() {
	s.normalise()
}

// HasScope reports whether the subject has the specified scope.
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize ensures the subject has all required scopes.
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidKey
	}
	if s.Disabled {
		return ErrKeyRevoked
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !s.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrScopeDenied, scope)
		}
	}
	return nil
}

// Clone creates a copy of the subject safe for concurrent readers.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		Name:     s.Name,
		ClientID: s.ClientID,
		Scopes:   append([]string(nil), s.Scopes...),
		Disabled: s.Disabled,
	}
	clone.normalise()
	return clone
}

// Config configures the authentication service.
type Config struct {
	Mode  Mode
	Seeds []Seed
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "apikey"
)

// Seed defines an API key to bootstrap, given in plain text. Stores persist
// only the hash.
type Seed struct {
	Key      string
	Name     string
	ClientID string
	Scopes   []string
	Disabled bool
}

// HashKey derives the stored digest for an API key.
func HashKey(key string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(digest[:])
}
