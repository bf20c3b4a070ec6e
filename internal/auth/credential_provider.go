package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{20,128}$`)

// KeyPrefix marks keys issued by GenerateKey.
const KeyPrefix = "cpk_"

// HashKey returns the hex SHA-256 of a raw key. Only hashes are stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether key has the accepted charset and length.
func WellFormed(key string) bool { return keyPattern.MatchString(key) }

// GenerateKey returns a fresh random key and its hash.
func GenerateKey() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = KeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

// CredentialProvider authenticates agents by API key against the
// credential store.
type CredentialProvider struct {
	creds store.CredentialStore
}

// NewCredentialProvider creates a store-backed provider.
func NewCredentialProvider(creds store.CredentialStore) *CredentialProvider {
	return &CredentialProvider{creds: creds}
}

func (p *CredentialProvider) Name() string  { return "credential" }
func (p *CredentialProvider) Enabled() bool { return p.creds != nil }

// Authenticate returns (nil, nil) when no key is present so the gate can
// report missing_credential once the whole chain has declined.
func (p *CredentialProvider) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	key := ExtractKey(r)
	if key == "" {
		return nil, nil
	}
	if !WellFormed(key) {
		return nil, ErrMalformed
	}

	hash := HashKey(key)
	cred, err := p.creds.GetCredential(ctx, hash)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrUnknown
		}
		log.Error().Err(err).Msg("Credential lookup failed")
		return nil, ErrInternal
	}

	switch cred.Status {
	case models.CredentialApproved:
	case models.CredentialPending:
		return nil, ErrPending
	case models.CredentialRevoked:
		return nil, ErrRevoked
	default:
		return nil, ErrUnknown
	}

	return &contracts.Identity{
		Subject:     "credential:" + hash[:16],
		Handle:      cred.Handle,
		Provider:    "credential",
		Role:        "agent",
		Permissions: append([]string(nil), cred.Permissions...),
		RateLimit:   cred.RateLimit,
		CreatedAt:   cred.CreatedAt,
	}, nil
}

// ExtractKey reads the key from Authorization: Bearer or X-API-Key.
func ExtractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
