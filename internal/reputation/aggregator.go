// Package reputation derives trust scores and tiers from settled rewards.
package reputation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultScore is credited for a completed reward that carries no score.
const DefaultScore = 10

// tiers are ascending score breakpoints.
var tiers = []struct {
	min  int
	tier models.TrustTier
}{
	{1000, models.TierLegendary},
	{400, models.TierElite},
	{150, models.TierTrusted},
	{50, models.TierContributor},
}

// TierFor maps a cumulative score to its trust tier.
func TierFor(score int) models.TrustTier {
	for _, t := range tiers {
		if score >= t.min {
			return t.tier
		}
	}
	return models.TierNewcomer
}

// Store is the slice of the store the aggregator needs.
type Store interface {
	store.ReputationStore
	ListRewards(ctx context.Context, filter models.RewardFilter) ([]models.Reward, error)
}

// Aggregator maintains reputation records.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// NewAggregator creates an aggregator backed by s.
func NewAggregator(s Store) *Aggregator {
	return &Aggregator{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Apply credits one completed reward to its recipient.
func (a *Aggregator) Apply(ctx context.Context, r models.Reward) (*models.Reputation, error) {
	if r.Status != models.RewardCompleted {
		return nil, fmt.Errorf("reputation: reward %s is %s, not completed", r.ID, r.Status)
	}
	now := a.now()
	rec, err := a.store.UpdateReputation(ctx, r.Recipient, func(rec *models.Reputation) error {
		credit(rec, &r)
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reputation: update %s: %w", r.Recipient, err)
	}
	log.Debug().Str("handle", rec.Handle).Int("score", rec.CumulativeScore).Str("tier", string(rec.TrustTier)).Msg("Reputation updated")
	return rec, nil
}

// Get returns the record for handle, or a NEWCOMER record if none exists.
func (a *Aggregator) Get(ctx context.Context, handle string) (*models.Reputation, error) {
	h := models.NormalizeHandle(handle)
	rec, err := a.store.GetReputation(ctx, h)
	if store.IsNotFound(err) {
		return &models.Reputation{Handle: h, TrustTier: models.TierNewcomer}, nil
	}
	return rec, err
}

// Rebuild recomputes every record from the completed reward history and
// replaces the collection. Running it twice yields the same records.
func (a *Aggregator) Rebuild(ctx context.Context) (int, error) {
	rewards, err := a.store.ListRewards(ctx, models.RewardFilter{Status: models.RewardCompleted})
	if err != nil {
		return 0, fmt.Errorf("reputation: list completed rewards: %w", err)
	}
	sort.SliceStable(rewards, func(i, j int) bool { return rewards[i].CreatedAt.Before(rewards[j].CreatedAt) })

	now := a.now()
	byHandle := make(map[string]*models.Reputation)
	for i := range rewards {
		h := models.NormalizeHandle(rewards[i].Recipient)
		rec, ok := byHandle[h]
		if !ok {
			rec = &models.Reputation{Handle: h}
			byHandle[h] = rec
		}
		credit(rec, &rewards[i])
		rec.UpdatedAt = now
	}

	records := make([]models.Reputation, 0, len(byHandle))
	for _, rec := range byHandle {
		records = append(records, *rec)
	}
	if err := a.store.ReplaceReputations(ctx, records); err != nil {
		return 0, fmt.Errorf("reputation: replace: %w", err)
	}
	log.Info().Int("records", len(records)).Int("rewards", len(rewards)).Msg("Reputation rebuilt")
	return len(records), nil
}

// Leaderboard returns the top records by cumulative score.
func (a *Aggregator) Leaderboard(ctx context.Context, limit int) ([]models.Reputation, error) {
	return a.store.ListReputations(ctx, limit)
}

func credit(rec *models.Reputation, r *models.Reward) {
	score := r.Score
	if score <= 0 {
		score = DefaultScore
	}
	rec.CumulativeScore += score
	rec.TotalEarned += r.Amount
	rec.TimesEvaluated++
	if r.BountyID != "" {
		rec.BountiesCompleted++
	}
	rec.TrustTier = TierFor(rec.CumulativeScore)
}
