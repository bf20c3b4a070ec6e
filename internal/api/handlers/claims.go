package handlers

import (
	"net/http"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/chain"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	pkgmw "github.com/kasperwtrcolor/clawpay/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Claim Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type claimRequest struct {
	RewardID string `json:"rewardId"`
	Wallet   string `json:"wallet"`
	Handle   string `json:"handle"`
}

type claimSuccess struct {
	Success     bool          `json:"success"`
	RewardID    string        `json:"rewardId"`
	TxSignature string        `json:"txSignature"`
	Amount      models.Amount `json:"amount"`
	Recovered   bool          `json:"recovered,omitempty"`
}

type claimFailure struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// claimView is the public shape of a reward. Lease fields stay internal.
type claimView struct {
	ID          string              `json:"id,omitempty"`
	Sender      string              `json:"sender"`
	Recipient   string              `json:"recipient"`
	Amount      models.Amount       `json:"amount"`
	Status      models.RewardStatus `json:"status"`
	Reason      string              `json:"reason,omitempty"`
	BountyID    string              `json:"bountyId,omitempty"`
	ClaimedBy   string              `json:"claimedBy,omitempty"`
	TxSignature string              `json:"txSignature,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	SettledAt   *time.Time          `json:"settledAt,omitempty"`
}

// viewOf hides the id of a pending reward from callers who do not own it.
func viewOf(r models.Reward, owner bool) claimView {
	id := r.ID
	if !owner && r.Status == models.RewardPending {
		id = ""
	}
	return claimView{
		ID:          id,
		Sender:      r.Sender,
		Recipient:   r.Recipient,
		Amount:      r.Amount,
		Status:      r.Status,
		Reason:      r.Reason,
		BountyID:    r.BountyID,
		ClaimedBy:   r.ClaimedBy,
		TxSignature: r.SettlementTx,
		CreatedAt:   r.CreatedAt,
		SettledAt:   r.SettledAt,
	}
}

// Claim settles a pending reward to the caller's wallet.
func (h *Handlers) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	h.claim(w, r, req)
}

// AgentClaim is Claim with the handle taken from the authenticated identity.
func (h *Handlers) AgentClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	req.Handle = pkgmw.GetIdentity(r.Context()).Handle
	h.claim(w, r, req)
}

func (h *Handlers) claim(w http.ResponseWriter, r *http.Request, req claimRequest) {
	rcpt, err := h.Settlement.Claim(r.Context(), req.RewardID, req.Wallet, req.Handle)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, claimSuccess{
		Success:     true,
		RewardID:    rcpt.RewardID,
		TxSignature: rcpt.TxSignature,
		Amount:      rcpt.Amount,
		Recovered:   rcpt.Recovered,
	})
}

// ListClaims returns the rewards addressed to ?handle=.
func (h *Handlers) ListClaims(w http.ResponseWriter, r *http.Request) {
	h.listClaims(w, r, r.URL.Query().Get("handle"), false)
}

// AgentClaims lists the caller's own rewards.
func (h *Handlers) AgentClaims(w http.ResponseWriter, r *http.Request) {
	h.listClaims(w, r, pkgmw.GetIdentity(r.Context()).Handle, true)
}

func (h *Handlers) listClaims(w http.ResponseWriter, r *http.Request, handle string, owner bool) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	list, err := h.Rewards.ListByHandle(r.Context(), handle, limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	claims := make([]claimView, len(list))
	for i := range list {
		claims[i] = viewOf(list[i], owner)
	}
	respondJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// ══════════════════════════════════════════════════════════════
// ── Delegation Handlers ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type authorizeRequest struct {
	Wallet    string        `json:"wallet"`
	Amount    models.Amount `json:"amount"`
	Signature string        `json:"signature"`
}

// Authorize records a wallet's spending approval and reports the live
// on-chain allowance.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	owner, ok := chain.ParseAddress(req.Wallet)
	if !ok {
		respondErr(w, r, models.Invalid("wallet", "must be a 0x-prefixed address"))
		return
	}
	if req.Amount <= 0 {
		respondErr(w, r, models.Invalid("amount", "must be positive"))
		return
	}

	units, err := h.Chain.Allowance(r.Context(), owner)
	if err != nil {
		log.Warn().Err(err).Str("wallet", owner.Hex()).Msg("Allowance read failed")
		respondError(w, http.StatusServiceUnavailable, "chain_timeout", "allowance could not be read")
		return
	}
	allowance := models.AmountFromBaseUnits(units, h.TokenDecimals)

	d := &models.Delegation{
		Wallet:          owner.Hex(),
		AllowanceAmount: req.Amount,
		Signature:       req.Signature,
		AuthorizedAt:    time.Now().UTC(),
	}
	if err := h.Store.UpsertDelegation(r.Context(), d); err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().
		Str("wallet", d.Wallet).
		Str("requested", req.Amount.String()).
		Str("allowance", allowance.String()).
		Msg("Delegation recorded")

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"wallet":       d.Wallet,
		"requested":    req.Amount,
		"allowance":    allowance,
		"sufficient":   allowance >= req.Amount,
		"authorizedAt": d.AuthorizedAt,
	})
}
