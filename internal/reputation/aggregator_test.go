package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  models.TrustTier
	}{
		{0, models.TierNewcomer},
		{49, models.TierNewcomer},
		{50, models.TierContributor},
		{149, models.TierContributor},
		{150, models.TierTrusted},
		{400, models.TierElite},
		{999, models.TierElite},
		{1000, models.TierLegendary},
		{5000, models.TierLegendary},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func completed(id, handle string, score int, amount int64, bounty string, at time.Time) *models.Reward {
	return &models.Reward{
		ID: id, Recipient: handle, Score: score, Amount: models.Whole(amount),
		BountyID: bounty, Status: models.RewardCompleted, CreatedAt: at,
	}
}

func TestApply_Increments(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	agg := NewAggregator(s)
	ctx := context.Background()

	rec, err := agg.Apply(ctx, *completed("rwd_1", "alice", 72, 5, "", time.Now()))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if rec.CumulativeScore != 72 || rec.TotalEarned != models.Whole(5) || rec.TimesEvaluated != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.TrustTier != models.TierContributor {
		t.Errorf("TrustTier = %s, want CONTRIBUTOR", rec.TrustTier)
	}

	rec, err = agg.Apply(ctx, *completed("rwd_2", "Alice", 0, 10, "bty_abcdefgh", time.Now()))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if rec.CumulativeScore != 72+DefaultScore || rec.BountiesCompleted != 1 || rec.TimesEvaluated != 2 {
		t.Errorf("record after bounty reward = %+v", rec)
	}
}

func TestApply_RejectsUnsettled(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	r := completed("rwd_1", "alice", 50, 1, "", time.Now())
	r.Status = models.RewardPending
	if _, err := NewAggregator(s).Apply(context.Background(), *r); err == nil {
		t.Fatal("Apply() on pending reward error = nil")
	}
}

func TestRebuild_MatchesIncremental(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	agg := NewAggregator(s)
	ctx := context.Background()
	base := time.Now()

	history := []*models.Reward{
		completed("rwd_1", "alice", 72, 5, "", base),
		completed("rwd_2", "bob", 90, 10, "bty_abcdefgh", base.Add(time.Second)),
		completed("rwd_3", "alice", 0, 2, "", base.Add(2*time.Second)),
	}
	for _, r := range history {
		if err := s.CreateReward(ctx, r); err != nil {
			t.Fatalf("CreateReward() error = %v", err)
		}
		if _, err := agg.Apply(ctx, *r); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	// Pending rewards never count.
	s.CreateReward(ctx, &models.Reward{ID: "rwd_4", Recipient: "alice", Amount: models.Whole(3), Status: models.RewardPending, CreatedAt: base})

	incremental, _ := agg.Get(ctx, "alice")

	for i := 0; i < 2; i++ {
		n, err := agg.Rebuild(ctx)
		if err != nil {
			t.Fatalf("Rebuild() error = %v", err)
		}
		if n != 2 {
			t.Fatalf("Rebuild() records = %d, want 2", n)
		}
	}
	rebuilt, _ := agg.Get(ctx, "alice")

	if rebuilt.CumulativeScore != incremental.CumulativeScore ||
		rebuilt.TotalEarned != incremental.TotalEarned ||
		rebuilt.TimesEvaluated != incremental.TimesEvaluated ||
		rebuilt.TrustTier != incremental.TrustTier {
		t.Errorf("rebuilt %+v != incremental %+v", rebuilt, incremental)
	}
	if rebuilt.CumulativeScore != 82 {
		t.Errorf("alice CumulativeScore = %d, want 82", rebuilt.CumulativeScore)
	}
}

func TestGet_MissingIsNewcomer(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	rec, err := NewAggregator(s).Get(context.Background(), "@Nobody")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Handle != "nobody" || rec.TrustTier != models.TierNewcomer {
		t.Errorf("Get() = %+v, want NEWCOMER for nobody", rec)
	}
}
