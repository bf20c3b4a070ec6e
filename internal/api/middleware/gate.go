package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/audit"
	"github.com/kasperwtrcolor/clawpay/internal/auth"
	"github.com/kasperwtrcolor/clawpay/internal/ratelimit"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	pkgmw "github.com/kasperwtrcolor/clawpay/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// Auditor receives gate decisions. Record must not block.
// Implementation: internal/audit.Recorder
type Auditor interface {
	Record(e models.AuditEvent)
}

// RoleAdmin is the identity role allowed through RequireAdmin.
const RoleAdmin = "admin"

// Gate authenticates requests through the provider chain and applies the
// caller's rate-limit quota.
type Gate struct {
	chain        contracts.AuthProviderChain
	limiter      ratelimit.Limiter
	audit        Auditor
	defaultQuota int
}

// NewGate creates the gate. defaultQuota applies to identities without
// their own RateLimit. audit may be nil.
func NewGate(chain contracts.AuthProviderChain, limiter ratelimit.Limiter, auditor Auditor, defaultQuota int) *Gate {
	if defaultQuota <= 0 {
		defaultQuota = 60
	}
	return &Gate{chain: chain, limiter: limiter, audit: auditor, defaultQuota: defaultQuota}
}

// RequireAgent admits any authenticated identity.
func (g *Gate) RequireAgent(next http.Handler) http.Handler {
	return g.handler(next, "")
}

// RequireAdmin admits only identities with the admin role.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return g.handler(next, RoleAdmin)
}

func (g *Gate) handler(next http.Handler, role string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.chain.Authenticate(r.Context(), r)
		if err == nil && identity == nil {
			err = auth.ErrMissing
		}
		if err == nil && role != "" && identity.Role != role {
			err = auth.ErrForbidden
		}
		if err != nil {
			ae := auth.AsError(err)
			g.record(r, audit.TypeAuthFailure, ae.Code, identity)
			if ae.Status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer realm="clawpay"`)
			}
			writeError(w, ae.Status, ae.Code, ae.Message)
			return
		}

		quota := identity.RateLimit
		if quota <= 0 {
			quota = g.defaultQuota
		}
		if !g.allow(w, r, "id:"+identity.Subject, quota, identity) {
			return
		}

		g.record(r, audit.TypeAuthSuccess, "", identity)
		if holder := identityHolderFrom(r.Context()); holder != nil {
			holder.identity = identity
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
	})
}

// IPLimit applies quota per client IP to unauthenticated routes.
func (g *Gate) IPLimit(quota int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.allow(w, r, "ip:"+clientIP(r), quota, nil) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow checks the limiter and writes the rate-limit headers. It writes the
// rejection itself and returns false when the request must stop.
func (g *Gate) allow(w http.ResponseWriter, r *http.Request, key string, quota int, identity *contracts.Identity) bool {
	res, err := g.limiter.Check(r.Context(), key, quota)
	if err != nil {
		// Fail closed: an unavailable limiter rejects the request.
		log.Error().Err(err).Str("key", key).Msg("Rate limiter unavailable")
		writeError(w, http.StatusInternalServerError, "persistence_error", "rate limiter unavailable")
		return false
	}

	reset := ceilSeconds(res.ResetIn)
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(reset))

	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(reset))
		g.record(r, audit.TypeRateLimited, "quota_exceeded", identity)
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return false
	}
	return true
}

func (g *Gate) record(r *http.Request, eventType, reason string, identity *contracts.Identity) {
	if g.audit == nil {
		return
	}
	e := models.AuditEvent{
		Type:   eventType,
		Reason: reason,
		IP:     clientIP(r),
		Path:   r.URL.Path,
		Method: r.Method,
	}
	if identity != nil {
		e.Handle = identity.Handle
	}
	g.audit.Record(e)
}

// ClientIP resolves the caller address once and stores it in the context.
// Mount after chi's RealIP.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetClientIP(r.Context(), ip)))
	})
}

// ── Helpers ──────────────────────────────────────────────────

type holderKey struct{}

// identityHolder lets outer middleware see the identity set further in.
type identityHolder struct {
	identity *contracts.Identity
}

func withIdentityHolder(ctx context.Context, h *identityHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

func identityHolderFrom(ctx context.Context) *identityHolder {
	h, _ := ctx.Value(holderKey{}).(*identityHolder)
	return h
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
