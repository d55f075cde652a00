package auth

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T, seeds []Seed) *Service {
	t.Helper()

	store, err := NewMemoryStore(seeds)
	if err != nil {
		t.Fatalf("create store failed: %v", err)
	}
	svc, err := NewService(context.Background(), Config{Mode: ModeAPIKey}, store)
	if err != nil {
		t.Fatalf("create service failed: %v", err)
	}
	return svc
}

func TestAuthenticateRequestBearer(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, []Seed{{
		Key:      "chave-secreta",
		Name:     "portal",
		ClientID: "cliente-1",
		Scopes:   []string{"chat", "jobs:read"},
	}})

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer chave-secreta", "")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if subject.ClientID != "cliente-1" || subject.Name != "portal" {
		t.Fatalf("unexpected subject: %+v", subject)
	}
	if !subject.HasScope("chat") || subject.HasScope("jobs:write") {
		t.Fatalf("unexpected scopes: %v", subject.Scopes)
	}
}

func TestAuthenticateRequestHeader(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, []Seed{{Key: "outra-chave", Name: "batch"}})

	if _, err := svc.AuthenticateRequest(context.Background(), "", "outra-chave"); err != nil {
		t.Fatalf("authenticate via header failed: %v", err)
	}
}

func TestAuthenticateRequestRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, []Seed{{Key: "chave-valida"}})

	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer chave-errada", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "", ""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
}

func TestAuthenticateRequestRejectsRevokedKey(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, []Seed{{Key: "chave-revogada", Disabled: true}})

	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer chave-revogada", ""); !errors.Is(err, ErrKeyRevoked) {
		t.Fatalf("expected revoked key, got %v", err)
	}
}

func TestSubjectAuthorize(t *testing.T) {
	t.Parallel()

	subject := &Subject{Scopes: []string{"chat", "jobs:write"}}
	if err := subject.Authorize("chat", "jobs:write"); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if err := subject.Authorize("admin"); !errors.Is(err, ErrScopeDenied) {
		t.Fatalf("expected scope denied, got %v", err)
	}
}

func TestDisabledModePassesThrough(t *testing.T) {
	t.Parallel()

	svc, err := NewService(context.Background(), Config{Mode: ModeDisabled}, nil)
	if err != nil {
		t.Fatalf("create service failed: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer qualquer", ""); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}
