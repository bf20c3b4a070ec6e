// Package handlers implements the ClawPay HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kasperwtrcolor/clawpay/internal/auth"
	"github.com/kasperwtrcolor/clawpay/internal/bounty"
	"github.com/kasperwtrcolor/clawpay/internal/discovery"
	"github.com/kasperwtrcolor/clawpay/internal/reputation"
	"github.com/kasperwtrcolor/clawpay/internal/rewards"
	"github.com/kasperwtrcolor/clawpay/internal/settlement"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

// Handlers holds the services behind the HTTP API.
type Handlers struct {
	Store      store.Store
	Rewards    *rewards.Queue
	Settlement *settlement.Executor
	Bounties   *bounty.Ledger
	Reputation *reputation.Aggregator

	// Generator and Scheduler are optional; their routes answer 503
	// when unset.
	Generator *bounty.Generator
	Scheduler *discovery.Scheduler

	// Chain serves allowance reads for /authorize.
	Chain         contracts.Chain
	TokenDecimals int
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}

// respondErr maps a service error to its HTTP status. Internal failures
// are logged and reported without detail.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *models.ValidationError
	var ae *auth.Error
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_request",
			"field":   ve.Field,
			"message": ve.Message,
		})
		return
	case errors.As(err, &ae):
		respondError(w, ae.Status, ae.Code, ae.Message)
		return
	}

	if se, ok := settlement.AsError(err); ok {
		respondJSON(w, settlementStatus(se.Code), claimFailure{
			Success:   false,
			Error:     string(se.Code),
			Message:   se.Message,
			Retryable: se.Retryable,
		})
		return
	}

	switch {
	case errors.Is(err, bounty.ErrNotFound), store.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, bounty.ErrNotAccepting),
		errors.Is(err, bounty.ErrAssignedElsewhere),
		errors.Is(err, bounty.ErrDuplicateSubmission),
		errors.Is(err, bounty.ErrInvalidTransition),
		errors.Is(err, bounty.ErrNoSubmission):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, bounty.ErrBusy):
		respondError(w, http.StatusServiceUnavailable, "busy", err.Error())
	case errors.Is(err, discovery.ErrCycleInProgress):
		respondError(w, http.StatusConflict, "cycle_in_progress", err.Error())
	case errors.Is(err, store.ErrExists):
		respondError(w, http.StatusConflict, "exists", err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// settlementStatus maps settlement failure codes to HTTP statuses.
func settlementStatus(code settlement.Code) int {
	switch code {
	case settlement.CodeInvalidRequest:
		return http.StatusBadRequest
	case settlement.CodeNotFound:
		return http.StatusNotFound
	case settlement.CodeAlreadyClaimed, settlement.CodeHandleMismatch:
		return http.StatusConflict
	case settlement.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case settlement.CodeChainTimeout:
		return http.StatusServiceUnavailable
	case settlement.CodeTransferRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return models.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

// intQuery parses an integer query parameter, returning def when absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, models.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

func unavailable(w http.ResponseWriter, what string) {
	respondError(w, http.StatusServiceUnavailable, "unavailable", what+" is not configured")
}
