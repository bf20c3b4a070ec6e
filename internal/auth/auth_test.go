package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

const testKey = "cpk_abcdefghijklmnopqrstuvwxyz012345"

func seedCredential(t *testing.T, s store.CredentialStore, key string, status models.CredentialStatus) {
	t.Helper()
	err := s.CreateCredential(context.Background(), &models.Credential{
		KeyHash:   HashKey(key),
		Handle:    "alice",
		Status:    status,
		RateLimit: 30,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}
}

func requestWithKey(key string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent/me", nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req
}

func TestCredentialProvider(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	seedCredential(t, s, testKey, models.CredentialApproved)
	seedCredential(t, s, "cpk_pendingpendingpending00", models.CredentialPending)
	seedCredential(t, s, "cpk_revokedrevokedrevoked00", models.CredentialRevoked)

	p := NewCredentialProvider(s)

	tests := []struct {
		name     string
		key      string
		wantErr  *Error
		wantNone bool
	}{
		{name: "no key", key: "", wantNone: true},
		{name: "malformed", key: "short!", wantErr: ErrMalformed},
		{name: "unknown", key: "cpk_unknownunknownunknown000", wantErr: ErrUnknown},
		{name: "pending", key: "cpk_pendingpendingpending00", wantErr: ErrPending},
		{name: "revoked", key: "cpk_revokedrevokedrevoked00", wantErr: ErrRevoked},
		{name: "approved", key: testKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := p.Authenticate(context.Background(), requestWithKey(tt.key))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if tt.wantNone {
				if id != nil {
					t.Fatalf("Authenticate() = %+v, want nil", id)
				}
				return
			}
			if id.Handle != "alice" || id.RateLimit != 30 || id.Role != "agent" {
				t.Errorf("identity = %+v", id)
			}
		})
	}
}

func TestPendingAndRevokedMapTo403(t *testing.T) {
	for _, e := range []*Error{ErrPending, ErrRevoked} {
		if e.Status != http.StatusForbidden {
			t.Errorf("%s status = %d, want 403", e.Code, e.Status)
		}
	}
	for _, e := range []*Error{ErrMissing, ErrMalformed, ErrUnknown} {
		if e.Status != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", e.Code, e.Status)
		}
	}
}

func TestProviderChain_AdminFirst(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	seedCredential(t, s, testKey, models.CredentialApproved)

	chain := NewProviderChain(NewAdminKeyProvider([]string{"admin-secret-key-000000"}), NewCredentialProvider(s))

	id, err := chain.Authenticate(context.Background(), requestWithKey("admin-secret-key-000000"))
	if err != nil || id == nil || id.Role != "admin" {
		t.Fatalf("admin Authenticate() = %+v, %v", id, err)
	}

	id, err = chain.Authenticate(context.Background(), requestWithKey(testKey))
	if err != nil || id == nil || id.Role != "agent" {
		t.Fatalf("agent Authenticate() = %+v, %v", id, err)
	}

	id, err = chain.Authenticate(context.Background(), requestWithKey(""))
	if err != nil || id != nil {
		t.Fatalf("anonymous Authenticate() = %+v, %v; want nil, nil", id, err)
	}
}

func TestGenerateKey(t *testing.T) {
	raw, hash, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if !WellFormed(raw) {
		t.Errorf("generated key %q is not well formed", raw)
	}
	if HashKey(raw) != hash {
		t.Error("hash mismatch")
	}
}
