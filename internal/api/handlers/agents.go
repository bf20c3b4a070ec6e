package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kasperwtrcolor/clawpay/internal/auth"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	pkgmw "github.com/kasperwtrcolor/clawpay/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// GetAgent returns the stored evaluation of username.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	name, err := models.ValidateHandle("username", chi.URLParam(r, "username"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), name)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) GetReputation(w http.ResponseWriter, r *http.Request) {
	handle, err := models.ValidateHandle("handle", chi.URLParam(r, "handle"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	rec, err := h.Reputation.Get(r.Context(), handle)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Leaderboard returns the top reputations.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	list, err := h.Reputation.Leaderboard(r.Context(), min(max(limit, 1), 100))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.Reputation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"reputation": list})
}

type registerRequest struct {
	Handle string `json:"handle"`
}

// RegisterAgent issues an API key in the pending state. The raw key is
// returned once and only its hash is stored.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	handle, err := models.ValidateHandle("handle", req.Handle)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	raw, hash, err := auth.GenerateKey()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	now := time.Now().UTC()
	cred := &models.Credential{
		KeyHash:   hash,
		Handle:    handle,
		Status:    models.CredentialPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateCredential(r.Context(), cred); err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().Str("handle", handle).Str("key_hash", hash[:16]).Msg("Agent credential requested")

	respondJSON(w, http.StatusCreated, map[string]any{
		"handle":   handle,
		"api_key":  raw,
		"key_hash": hash,
		"status":   cred.Status,
		"message":  "Store this key now; it is not shown again. It works once an operator approves it.",
	})
}

// Me describes the authenticated agent.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id := pkgmw.GetIdentity(r.Context())
	rec, err := h.Reputation.Get(r.Context(), id.Handle)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"handle":      id.Handle,
		"permissions": id.Permissions,
		"created_at":  id.CreatedAt,
		"reputation":  rec,
	})
}
