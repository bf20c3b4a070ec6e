package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller. Produced by an AuthProvider
// and attached to the request context by the gate.
type Identity struct {
	// Subject is a stable identifier (handle or key hash prefix).
	Subject string `json:"subject"`

	// Handle is the agent's platform handle, empty for admin keys.
	Handle string `json:"handle,omitempty"`

	// Provider identifies which provider authenticated this identity.
	// Values: "credential", "admin"
	Provider string `json:"provider"`

	// Role is "agent" or "admin".
	Role string `json:"role"`

	Permissions []string `json:"permissions,omitempty"`

	// RateLimit is the caller's quota per window; 0 means the default.
	RateLimit int `json:"rate_limit,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasPermission reports whether the identity carries perm or "*".
func (i *Identity) HasPermission(perm string) bool {
	for _, p := range i.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	// Name returns the provider identifier.
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}

// AuthProviderChain tries providers in priority order until one returns an
// Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
