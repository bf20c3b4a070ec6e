package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kasperwtrcolor/clawpay/internal/rewards"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Admin Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// PostReward queues a manual reward.
func (h *Handlers) PostReward(w http.ResponseWriter, r *http.Request) {
	var req rewards.PostRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	reward, err := h.Rewards.Post(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, reward)
}

// ListRewards returns rewards filtered by ?status= and ?recipient=.
func (h *Handlers) ListRewards(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := h.Store.ListRewards(r.Context(), models.RewardFilter{
		Recipient:     q.Get("recipient"),
		Status:        models.RewardStatus(q.Get("status")),
		SourceSkillID: q.Get("skill"),
		Limit:         limit,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.Reward{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rewards": list, "count": len(list)})
}

// RunCycle runs one discovery cycle synchronously. 409 while another runs.
func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		unavailable(w, "discovery")
		return
	}
	report, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ── Credentials ──────────────────────────────────────────────

func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListCredentials(r.Context(), models.CredentialStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.Credential{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"credentials": list})
}

func (h *Handlers) ApproveCredential(w http.ResponseWriter, r *http.Request) {
	h.setCredentialStatus(w, r, models.CredentialApproved)
}

func (h *Handlers) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	h.setCredentialStatus(w, r, models.CredentialRevoked)
}

func (h *Handlers) setCredentialStatus(w http.ResponseWriter, r *http.Request, status models.CredentialStatus) {
	hash := chi.URLParam(r, "keyHash")
	cred, err := h.Store.UpdateCredentialStatus(r.Context(), hash, status)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().Str("handle", cred.Handle).Str("status", string(status)).Msg("Credential status changed")
	respondJSON(w, http.StatusOK, cred)
}

// ── Reputation ───────────────────────────────────────────────

func (h *Handlers) RebuildReputation(w http.ResponseWriter, r *http.Request) {
	n, err := h.Reputation.Rebuild(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"records": n})
}

// ── Audit ────────────────────────────────────────────────────

// ListAuditEvents returns gate decisions newest first.
func (h *Handlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	filter := models.AuditFilter{
		Type:   r.URL.Query().Get("type"),
		Handle: r.URL.Query().Get("handle"),
		Limit:  min(limit, 1000),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondErr(w, r, models.Invalid("since", "must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = &since
	}

	events, err := h.Store.ListAuditEvents(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}
