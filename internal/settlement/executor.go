// Package settlement turns a pending reward into a confirmed token transfer.
//
// A reward is paid at most once. Each claim attempt first takes a short
// lease on the reward with a conditional update, so concurrent attempts for
// the same reward lose fast while unrelated rewards never contend. The
// reward id is the chain transfer reference: a retry after a lost
// confirmation finds the earlier transfer instead of submitting a second one.
// The final pending→completed write is keyed on both the status and the
// lease token.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/kasperwtrcolor/clawpay/internal/chain"
	"github.com/kasperwtrcolor/clawpay/internal/notify"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLeaseTTL bounds how long one attempt may hold a reward.
const DefaultLeaseTTL = 2 * time.Minute

// releaseTimeout bounds lease release after the caller has gone away.
const releaseTimeout = 5 * time.Second

// ── Errors ───────────────────────────────────────────────────

// Code classifies a settlement failure.
type Code string

const (
	CodeInvalidRequest    Code = "invalid_request"
	CodeNotFound          Code = "not_found"
	CodeAlreadyClaimed    Code = "already_claimed"
	CodeHandleMismatch    Code = "handle_mismatch"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeChainTimeout      Code = "chain_timeout"
	CodeTransferRejected  Code = "transfer_rejected"
	CodePersistence       Code = "persistence_error"
)

// Error is returned by Claim. Retryable errors leave the reward pending.
type Error struct {
	Code      Code   `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	cause     error
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func (e *Error) Unwrap() error { return e.cause }

func fail(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: code == CodeInsufficientFunds || code == CodeChainTimeout,
		cause:     cause,
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}

// ── Collaborators ────────────────────────────────────────────

// ReputationRecorder is credited after each settlement.
// Implementation: internal/reputation.Aggregator
type ReputationRecorder interface {
	Apply(ctx context.Context, r models.Reward) (*models.Reputation, error)
}

// Notifier receives settlement events.
// Implementation: internal/notify.Service
type Notifier interface {
	Notify(ctx context.Context, event notify.Event)
}

// Config holds the token parameters.
type Config struct {
	Token         common.Address
	TokenDecimals int
	LeaseTTL      time.Duration
}

// Receipt describes a completed settlement.
type Receipt struct {
	RewardID    string        `json:"reward_id"`
	Recipient   string        `json:"recipient"`
	Wallet      string        `json:"wallet"`
	Amount      models.Amount `json:"amount"`
	TxSignature string        `json:"tx_signature"`
	SettledAt   time.Time     `json:"settled_at"`
	// Recovered is set when the transfer was found on chain from an
	// earlier attempt rather than submitted by this one.
	Recovered bool `json:"recovered,omitempty"`
}

// ── Executor ─────────────────────────────────────────────────

// Executor settles rewards against a chain.
type Executor struct {
	store      store.RewardStore
	chain      contracts.Chain
	cfg        Config
	reputation ReputationRecorder
	notifier   Notifier
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithReputation credits each settlement to the recipient's reputation.
func WithReputation(r ReputationRecorder) Option {
	return func(e *Executor) { e.reputation = r }
}

// WithNotifier sends settlement events.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates a settlement executor.
func NewExecutor(s store.RewardStore, c contracts.Chain, cfg Config, opts ...Option) *Executor {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.TokenDecimals <= 0 {
		cfg.TokenDecimals = models.AmountDecimals
	}
	e := &Executor{
		store:  s,
		chain:  c,
		cfg:    cfg,
		tracer: otel.Tracer("clawpay/settlement"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt carries the state of one claim.
type attempt struct {
	reward   *models.Reward
	wallet   string
	leaseTok string
}

// Claim pays reward rewardID to wallet if handle is its recipient.
func (e *Executor) Claim(ctx context.Context, rewardID, wallet, handle string) (*Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.claim", trace.WithAttributes(
		attribute.String("reward.id", rewardID),
	))
	defer span.End()

	rcpt, err := e.claim(ctx, rewardID, wallet, handle)
	if err != nil {
		code := "error"
		if se, ok := AsError(err); ok {
			code = string(se.Code)
		}
		span.SetAttributes(attribute.String("settlement.error", code))
		span.SetStatus(codes.Error, code)
		log.Info().Str("reward_id", rewardID).Str("handle", handle).Str("code", code).Msg("Claim refused")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("settlement.recovered", rcpt.Recovered))
	log.Info().
		Str("reward_id", rcpt.RewardID).
		Str("handle", rcpt.Recipient).
		Str("amount", rcpt.Amount.String()).
		Str("tx", rcpt.TxSignature).
		Bool("recovered", rcpt.Recovered).
		Msg("Reward settled")
	return rcpt, nil
}

func (e *Executor) claim(ctx context.Context, rewardID, wallet, handle string) (*Receipt, error) {
	// 1. Validate
	if err := models.ValidateRewardID(rewardID); err != nil {
		return nil, fail(CodeInvalidRequest, err, "malformed reward id")
	}
	to, ok := chain.ParseAddress(wallet)
	if !ok {
		return nil, fail(CodeInvalidRequest, nil, "wallet must be a 0x-prefixed address")
	}
	h, err := models.ValidateHandle("handle", handle)
	if err != nil {
		return nil, fail(CodeInvalidRequest, err, "%s", err.Error())
	}

	// 2. Preconditions against the stored record
	now := e.now()
	r, err := e.store.GetReward(ctx, rewardID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fail(CodeNotFound, err, "reward %s does not exist", rewardID)
		}
		return nil, fail(CodePersistence, err, "reward lookup failed")
	}
	if r.Status != models.RewardPending || r.Leased(now) {
		return nil, fail(CodeAlreadyClaimed, nil, "reward %s is not claimable", rewardID)
	}
	if r.Recipient != h {
		return nil, fail(CodeHandleMismatch, nil, "reward %s belongs to a different handle", rewardID)
	}
	from, ok := chain.ParseAddress(r.SenderWallet)
	if !ok {
		return nil, fail(CodeTransferRejected, nil, "reward %s has no valid sender wallet", rewardID)
	}

	// 3. Lease
	a := &attempt{wallet: to.Hex(), leaseTok: uuid.NewString()}
	expires := now.Add(e.cfg.LeaseTTL)
	leased, err := e.store.UpdateReward(ctx, rewardID,
		func(cur *models.Reward) bool {
			return cur.Status == models.RewardPending && !cur.Leased(now) && cur.Recipient == h
		},
		func(cur *models.Reward) {
			cur.LeaseToken = a.leaseTok
			cur.LeaseExpiresAt = &expires
		})
	if errors.Is(err, store.ErrConflict) {
		return nil, fail(CodeAlreadyClaimed, err, "reward %s is not claimable", rewardID)
	}
	if err != nil {
		return nil, fail(CodePersistence, err, "reward lease failed")
	}
	a.reward = leased

	// 4. Recovery: an earlier attempt may have landed on chain
	prior, err := e.chain.LookupTransfer(ctx, rewardID)
	if err != nil {
		e.release(a)
		return nil, fail(CodeChainTimeout, err, "could not read chain state, retry later")
	}
	if prior != nil && prior.Confirmed && prior.Signature != "" {
		return e.finalize(ctx, a, prior, true)
	}

	// 5. Live allowance and balance
	amount := leased.Amount.BaseUnits(e.cfg.TokenDecimals)
	allowance, err := e.chain.Allowance(ctx, from)
	if err != nil {
		e.release(a)
		return nil, fail(CodeChainTimeout, err, "could not read allowance, retry later")
	}
	balance, err := e.chain.Balance(ctx, from, e.cfg.Token)
	if err != nil {
		e.release(a)
		return nil, fail(CodeChainTimeout, err, "could not read balance, retry later")
	}
	if allowance.Cmp(amount) < 0 || balance.Cmp(amount) < 0 {
		e.release(a)
		have := models.AmountFromBaseUnits(minBig(allowance, balance), e.cfg.TokenDecimals)
		return nil, fail(CodeInsufficientFunds, nil, "sender can cover %s of %s", have, leased.Amount)
	}

	// 6. Transfer
	txr, err := e.chain.Transfer(ctx, contracts.TransferRequest{
		From:          from,
		To:            to,
		Amount:        amount,
		Reference:     rewardID,
		UseDelegation: true,
	})
	switch {
	case err == nil && txr != nil && txr.Confirmed && txr.Signature != "":
		return e.finalize(ctx, a, txr, false)
	case errors.Is(err, chain.ErrRejected):
		e.markFailed(ctx, a, err)
		return nil, fail(CodeTransferRejected, err, "transfer rejected by chain")
	default:
		// Submitted but unconfirmed, timed out or cancelled: the transfer
		// may still land. Stay pending; the next attempt looks it up first.
		if err == nil {
			err = chain.ErrUnconfirmed
		}
		e.release(a)
		return nil, fail(CodeChainTimeout, err, "transfer not confirmed, retry later")
	}
}

// finalize records the confirmed transfer with the lease-keyed CAS.
func (e *Executor) finalize(ctx context.Context, a *attempt, txr *contracts.TransferReceipt, recovered bool) (*Receipt, error) {
	settledAt := e.now()
	// The transfer is on chain; finish the write even if the caller left.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	done, err := e.store.UpdateReward(wctx, a.reward.ID,
		func(cur *models.Reward) bool {
			return cur.Status == models.RewardPending && cur.LeaseToken == a.leaseTok
		},
		func(cur *models.Reward) {
			cur.Status = models.RewardCompleted
			cur.ClaimedBy = a.wallet
			cur.SettlementTx = txr.Signature
			cur.SettledAt = &settledAt
			cur.LeaseToken = ""
			cur.LeaseExpiresAt = nil
		})
	if errors.Is(err, store.ErrConflict) {
		// Our lease expired and another attempt took over; it will find
		// the same transfer by reference.
		cur, gerr := e.store.GetReward(wctx, a.reward.ID)
		if gerr == nil && cur.Status == models.RewardCompleted && cur.SettlementTx == txr.Signature {
			return receiptFor(cur, recovered), nil
		}
		return nil, fail(CodeAlreadyClaimed, err, "reward %s is not claimable", a.reward.ID)
	}
	if err != nil {
		// Lease will lapse and the next attempt recovers via lookup.
		log.Error().Err(err).Str("reward_id", a.reward.ID).Str("tx", txr.Signature).Msg("Transfer confirmed but completion write failed")
		return nil, fail(CodePersistence, err, "settlement recorded on chain but not stored, retry to finish")
	}

	e.afterSettle(wctx, done)
	return receiptFor(done, recovered), nil
}

// afterSettle runs the best-effort follow-ups. Neither can undo settlement.
func (e *Executor) afterSettle(ctx context.Context, r *models.Reward) {
	if e.reputation != nil {
		if _, err := e.reputation.Apply(ctx, *r); err != nil {
			log.Warn().Err(err).Str("reward_id", r.ID).Msg("Reputation update failed")
		}
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, notify.NewEvent(notify.EventRewardSettled, r))
	}
}

// release drops the lease so a later attempt can proceed. It runs on a
// detached context because it usually follows a caller timeout.
func (e *Executor) release(a *attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_, err := e.store.UpdateReward(ctx, a.reward.ID,
		func(cur *models.Reward) bool { return cur.LeaseToken == a.leaseTok },
		func(cur *models.Reward) {
			cur.LeaseToken = ""
			cur.LeaseExpiresAt = nil
		})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		log.Warn().Err(err).Str("reward_id", a.reward.ID).Msg("Lease release failed, it will expire")
	}
}

func (e *Executor) markFailed(ctx context.Context, a *attempt, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	failed, err := e.store.UpdateReward(wctx, a.reward.ID,
		func(cur *models.Reward) bool {
			return cur.Status == models.RewardPending && cur.LeaseToken == a.leaseTok
		},
		func(cur *models.Reward) {
			cur.Status = models.RewardFailed
			cur.FailureReason = cause.Error()
			cur.LeaseToken = ""
			cur.LeaseExpiresAt = nil
		})
	if err != nil {
		log.Warn().Err(err).Str("reward_id", a.reward.ID).Msg("Could not mark reward failed")
		return
	}
	if e.notifier != nil {
		e.notifier.Notify(wctx, notify.NewEvent(notify.EventRewardFailed, failed))
	}
}

func receiptFor(r *models.Reward, recovered bool) *Receipt {
	rc := &Receipt{
		RewardID:    r.ID,
		Recipient:   r.Recipient,
		Wallet:      r.ClaimedBy,
		Amount:      r.Amount,
		TxSignature: r.SettlementTx,
		Recovered:   recovered,
	}
	if r.SettledAt != nil {
		rc.SettledAt = *r.SettledAt
	}
	return rc
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}
