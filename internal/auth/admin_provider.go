package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
)

// AdminKeyProvider accepts operator keys from configuration. A key that is
// not an admin key is left for the next provider.
type AdminKeyProvider struct {
	keys [][]byte
}

// NewAdminKeyProvider builds the provider from a list of raw keys.
func NewAdminKeyProvider(keys []string) *AdminKeyProvider {
	p := &AdminKeyProvider{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			p.keys = append(p.keys, []byte(k))
		}
	}
	return p
}

func (p *AdminKeyProvider) Name() string  { return "admin" }
func (p *AdminKeyProvider) Enabled() bool { return len(p.keys) > 0 }

func (p *AdminKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	key := ExtractKey(r)
	if key == "" {
		return nil, nil
	}
	match := 0
	for _, k := range p.keys {
		match |= subtle.ConstantTimeCompare([]byte(key), k)
	}
	if match != 1 {
		return nil, nil
	}
	return &contracts.Identity{
		Subject:     "admin:" + HashKey(key)[:16],
		Provider:    "admin",
		Role:        "admin",
		Permissions: []string{"*"},
	}, nil
}
