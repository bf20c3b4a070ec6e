// Package rewards records pending reward obligations before settlement.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/chain"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// Defaults fill sender fields left empty by callers.
type Defaults struct {
	Sender       string
	SenderWallet string
}

// Queue validates and persists rewards.
type Queue struct {
	store    store.RewardStore
	defaults Defaults
	now      func() time.Time
}

func NewQueue(s store.RewardStore, defaults Defaults) *Queue {
	return &Queue{store: s, defaults: defaults, now: time.Now}
}

// PostRequest is a manually posted reward.
type PostRequest struct {
	Sender       string        `json:"sender"`
	SenderWallet string        `json:"sender_wallet"`
	Recipient    string        `json:"recipient"`
	Amount       models.Amount `json:"amount"`
	Reason       string        `json:"reason"`
	Score        int           `json:"score"`
}

// prepare normalizes r in place and validates it.
func (q *Queue) prepare(r *models.Reward, now time.Time) error {
	recipient, err := models.ValidateHandle("recipient", r.Recipient)
	if err != nil {
		return err
	}
	r.Recipient = recipient
	if r.Amount <= 0 {
		return models.Invalid("amount", "must be positive")
	}
	if r.Sender == "" {
		r.Sender = q.defaults.Sender
	}
	r.Sender = models.NormalizeHandle(r.Sender)
	if r.SenderWallet == "" {
		r.SenderWallet = q.defaults.SenderWallet
	}
	addr, ok := chain.ParseAddress(r.SenderWallet)
	if !ok {
		return models.Invalid("sender_wallet", "must be a 0x-prefixed address")
	}
	r.SenderWallet = addr.Hex()

	if r.Status != models.RewardEvaluating {
		r.Status = models.RewardPending
	}
	if r.ID == "" {
		r.ID = models.NewID(models.RewardIDPrefix)
	} else if err := models.ValidateRewardID(r.ID); err != nil {
		return err
	}
	r.ClaimedBy, r.SettlementTx, r.FailureReason = "", "", ""
	r.SettledAt, r.LeaseToken, r.LeaseExpiresAt = nil, "", nil
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// Enqueue validates every reward before persisting any of them. It returns
// the rewards stored so far alongside a persistence error. A reward that
// carries an id keeps it; a taken id fails with store.ErrExists.
func (q *Queue) Enqueue(ctx context.Context, batch []models.Reward) ([]models.Reward, error) {
	now := q.now().UTC()
	prepared := make([]models.Reward, len(batch))
	for i := range batch {
		prepared[i] = batch[i]
		if err := q.prepare(&prepared[i], now); err != nil {
			return nil, fmt.Errorf("reward %d: %w", i, err)
		}
	}

	stored := make([]models.Reward, 0, len(prepared))
	for i := range prepared {
		if err := q.store.CreateReward(ctx, &prepared[i]); err != nil {
			return stored, fmt.Errorf("persist reward for %s: %w", prepared[i].Recipient, err)
		}
		stored = append(stored, prepared[i])
		log.Info().
			Str("reward_id", prepared[i].ID).
			Str("handle", prepared[i].Recipient).
			Str("amount", prepared[i].Amount.String()).
			Str("status", string(prepared[i].Status)).
			Msg("Reward queued")
	}
	return stored, nil
}

// Post queues one manually created reward.
func (q *Queue) Post(ctx context.Context, req PostRequest) (*models.Reward, error) {
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "Manual reward"
	}
	out, err := q.Enqueue(ctx, []models.Reward{{
		Sender:        req.Sender,
		SenderWallet:  req.SenderWallet,
		Recipient:     req.Recipient,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Score:         req.Score,
		SourceSkillID: "manual",
	}})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.Reward, error) {
	if err := models.ValidateRewardID(id); err != nil {
		return nil, err
	}
	return q.store.GetReward(ctx, id)
}

// ListByHandle returns the handle's rewards, newest first.
func (q *Queue) ListByHandle(ctx context.Context, handle string, limit int) ([]models.Reward, error) {
	h, err := models.ValidateHandle("handle", handle)
	if err != nil {
		return nil, err
	}
	return q.store.ListRewards(ctx, models.RewardFilter{Recipient: h, Limit: limit})
}

// MarkAnnounced records the outcome of the courtesy notification. It never
// changes the reward's status.
func (q *Queue) MarkAnnounced(ctx context.Context, id string, announceErr error) error {
	_, err := q.store.UpdateReward(ctx, id, nil, func(r *models.Reward) {
		r.Announced = announceErr == nil
		r.AnnounceError = ""
		if announceErr != nil {
			msg := announceErr.Error()
			if len(msg) > 200 {
				msg = msg[:200]
			}
			r.AnnounceError = msg
		}
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}
