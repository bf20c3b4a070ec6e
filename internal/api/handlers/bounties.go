package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kasperwtrcolor/clawpay/internal/bounty"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	pkgmw "github.com/kasperwtrcolor/clawpay/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Bounty Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListBounties returns bounties filtered by ?status= (default 20, max 100).
func (h *Handlers) ListBounties(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", bounty.DefaultListLimit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	filter := models.BountyFilter{
		Status: models.BountyStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}
	list, err := h.Bounties.List(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.Bounty{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"bounties": list, "count": len(list)})
}

func (h *Handlers) GetBounty(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bounties.Get(r.Context(), chi.URLParam(r, "bountyId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

type submitRequest struct {
	Username string `json:"username"`
	Proof    string `json:"proof"`
}

// SubmitBounty records proof from the authenticated agent. A username in
// the body must name the caller.
func (h *Handlers) SubmitBounty(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	handle := pkgmw.GetIdentity(r.Context()).Handle
	if req.Username != "" && models.NormalizeHandle(req.Username) != handle {
		respondError(w, http.StatusForbidden, "handle_mismatch", "username does not match the authenticated agent")
		return
	}
	b, err := h.Bounties.Submit(r.Context(), handle, chi.URLParam(r, "bountyId"), req.Proof)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "bounty": b})
}

// StartBounty marks an open bounty in progress for the caller.
func (h *Handlers) StartBounty(w http.ResponseWriter, r *http.Request) {
	handle := pkgmw.GetIdentity(r.Context()).Handle
	b, err := h.Bounties.Start(r.Context(), chi.URLParam(r, "bountyId"), handle)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// ── Admin ────────────────────────────────────────────────────

func (h *Handlers) PostBounty(w http.ResponseWriter, r *http.Request) {
	var req bounty.PostRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.Bounties.Post(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

type generateRequest struct {
	Count int `json:"count"`
}

const maxGenerate = 10

// GenerateBounties drafts and posts up to ten bounties.
func (h *Handlers) GenerateBounties(w http.ResponseWriter, r *http.Request) {
	if h.Generator == nil {
		unavailable(w, "bounty generator")
		return
	}
	req := generateRequest{Count: 1}
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Count < 1 || req.Count > maxGenerate {
		respondErr(w, r, models.Invalid("count", "must be 1-%d", maxGenerate))
		return
	}
	posted, err := h.Generator.Generate(r.Context(), req.Count)
	if err != nil && len(posted) == 0 {
		respondErr(w, r, err)
		return
	}
	if err != nil {
		log.Warn().Err(err).Int("posted", len(posted)).Msg("Bounty generation stopped early")
	}
	respondJSON(w, http.StatusCreated, map[string]any{"bounties": posted, "count": len(posted)})
}

type releaseRequest struct {
	Winner string `json:"winner"`
}

func (h *Handlers) ReleaseBounty(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.Bounties.Release(r.Context(), chi.URLParam(r, "bountyId"), req.Winner)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handlers) CancelBounty(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bounties.Cancel(r.Context(), chi.URLParam(r, "bountyId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}
