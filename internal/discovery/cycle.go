package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/evaluator"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Defaults for Policy fields left at zero.
const (
	DefaultMaxRewards  = 5
	DefaultCooldown    = 24 * time.Hour
	DefaultMinScore    = 40
	DefaultSampleSize  = 10
	DefaultSearchLimit = 50
)

// Scorer evaluates one candidate.
// Implementation: internal/evaluator.Evaluator
type Scorer interface {
	Evaluate(ctx context.Context, in evaluator.Input) models.Evaluation
}

// Policy bounds what a cycle may spend.
type Policy struct {
	MinScore    int
	SampleSize  int
	SearchLimit int
	// SelfHandle is the system's own account, never evaluated.
	SelfHandle string
	// ClaimURL is linked from notification texts.
	ClaimURL string
	// RemoteKey enables the remote scorer.
	RemoteKey string
}

func (p Policy) withDefaults() Policy {
	if p.MinScore <= 0 {
		p.MinScore = DefaultMinScore
	}
	if p.SampleSize <= 0 {
		p.SampleSize = DefaultSampleSize
	}
	if p.SearchLimit <= 0 {
		p.SearchLimit = DefaultSearchLimit
	}
	p.SelfHandle = models.NormalizeHandle(p.SelfHandle)
	return p
}

// candidate is one account seen in a feed batch.
type candidate struct {
	ExternalID string
	Username   string
	Bio        string
	PostID     string
	// Texts is set when the feed already delivered the sample.
	Texts []string
}

// sampleFunc fetches a candidate's recent texts.
type sampleFunc func(ctx context.Context, c candidate, limit int) ([]string, error)

// Stats counts what happened to the candidates of one run.
type Stats struct {
	Seen      int
	Invalid   int
	Cooldown  int
	NoSample  int
	Evaluated int
	Rewarded  int
}

// Cycle runs the shared discovery pipeline.
type Cycle struct {
	agents store.AgentStore
	scorer Scorer
	feed   contracts.SocialFeed
	policy Policy
	tracer trace.Tracer
	now    func() time.Time
}

// NewCycle creates a cycle. feed may be nil when only community sources use
// the cycle.
func NewCycle(agents store.AgentStore, scorer Scorer, feed contracts.SocialFeed, policy Policy) *Cycle {
	return &Cycle{
		agents: agents,
		scorer: scorer,
		feed:   feed,
		policy: policy.withDefaults(),
		tracer: otel.Tracer("clawpay/discovery"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run searches the social feed for query and evaluates new candidates in
// feed order, stopping after maxRewards rewards. Agents evaluated within
// cooldown are skipped.
func (c *Cycle) Run(ctx context.Context, query string, maxRewards int, cooldown time.Duration) ([]models.Reward, error) {
	if c.feed == nil {
		return nil, fmt.Errorf("discovery: no social feed configured")
	}
	ctx, span := c.tracer.Start(ctx, "discovery.search", trace.WithAttributes(attribute.String("query", query)))
	res, err := c.feed.Search(ctx, query, c.policy.SearchLimit)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("discovery: search %q: %w", query, err)
	}

	authors := make(map[string]contracts.Author, len(res.Authors))
	for _, a := range res.Authors {
		authors[a.ID] = a
	}

	seen := make(map[string]bool)
	var batch []candidate
	for _, p := range res.Posts {
		if p.AuthorID == "" || seen[p.AuthorID] {
			continue
		}
		seen[p.AuthorID] = true
		a, ok := authors[p.AuthorID]
		if !ok || a.Username == "" {
			continue
		}
		batch = append(batch, candidate{
			ExternalID: a.ID,
			Username:   a.Username,
			Bio:        a.Bio,
			PostID:     p.ID,
		})
	}

	rewards, stats, err := c.process(ctx, FeedSkillID, batch, c.sampleFeed, maxRewards, cooldown)
	logStats(FeedSkillID, stats)
	return rewards, err
}

func (c *Cycle) sampleFeed(ctx context.Context, cand candidate, limit int) ([]string, error) {
	posts, err := c.feed.UserRecentPosts(ctx, cand.ExternalID, limit)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(posts))
	for _, p := range posts {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return texts, nil
}

// process applies cooldown, sampling, evaluation and reward creation to an
// ordered batch.
func (c *Cycle) process(ctx context.Context, skillID string, batch []candidate, sample sampleFunc, maxRewards int, cooldown time.Duration) ([]models.Reward, Stats, error) {
	if maxRewards <= 0 {
		maxRewards = DefaultMaxRewards
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	var (
		rewards []models.Reward
		stats   Stats
	)
	for _, cand := range batch {
		if len(rewards) >= maxRewards {
			break
		}
		if err := ctx.Err(); err != nil {
			return rewards, stats, err
		}

		handle := models.NormalizeHandle(cand.Username)
		if handle == "" || handle == c.policy.SelfHandle {
			continue
		}
		stats.Seen++

		// A handle the reward queue would refuse is never sampled or stamped.
		if _, err := models.ValidateHandle("handle", handle); err != nil {
			stats.Invalid++
			log.Debug().Str("skill", skillID).Str("handle", handle).Msg("Skipping candidate with unpayable handle")
			continue
		}

		// Cooldown is checked before spending a sample fetch.
		now := c.now()
		if a, err := c.agents.GetAgent(ctx, handle); err == nil {
			if a.LastEvaluatedAt != nil && now.Sub(*a.LastEvaluatedAt) < cooldown {
				stats.Cooldown++
				continue
			}
		} else if !store.IsNotFound(err) {
			return rewards, stats, fmt.Errorf("discovery: read agent %s: %w", handle, err)
		}

		texts, err := sample(ctx, cand, c.policy.SampleSize)
		if err != nil {
			log.Warn().Err(err).Str("skill", skillID).Str("handle", handle).Msg("Sample fetch failed, skipping candidate")
			stats.NoSample++
			continue
		}
		if len(texts) > c.policy.SampleSize {
			texts = texts[:c.policy.SampleSize]
		}
		if len(texts) == 0 {
			stats.NoSample++
			continue
		}

		// The claim stamps lastEvaluatedAt atomically, so an overlapping
		// run cannot score the same handle twice.
		ok, err := c.agents.ClaimEvaluation(ctx, handle, now.Add(-cooldown), now)
		if err != nil {
			return rewards, stats, fmt.Errorf("discovery: claim %s: %w", handle, err)
		}
		if !ok {
			stats.Cooldown++
			continue
		}

		ev := c.scorer.Evaluate(ctx, evaluator.Input{
			Username:  handle,
			Bio:       cand.Bio,
			Texts:     texts,
			RemoteKey: c.policy.RemoteKey,
		})
		stats.Evaluated++

		src := skillID
		update := models.AgentUpdate{
			Username:        handle,
			Source:          &src,
			Evaluation:      &ev,
			LastEvaluatedAt: &now,
		}
		if cand.ExternalID != "" {
			update.ExternalID = &cand.ExternalID
		}
		if cand.Bio != "" {
			update.Bio = &cand.Bio
		}
		if _, err := c.agents.MergeAgent(ctx, update); err != nil {
			return rewards, stats, fmt.Errorf("discovery: merge agent %s: %w", handle, err)
		}

		log.Info().
			Str("skill", skillID).
			Str("handle", handle).
			Int("score", ev.Score).
			Str("verdict", string(ev.Verdict)).
			Str("method", string(ev.Method)).
			Msg("Agent evaluated")

		if ev.Score < c.policy.MinScore || ev.RewardAmount <= 0 {
			continue
		}
		rewards = append(rewards, models.Reward{
			Recipient:     handle,
			Amount:        ev.RewardAmount,
			Reason:        ev.Reason,
			SourceSkillID: skillID,
			SourcePostID:  cand.PostID,
			Score:         ev.Score,
			Notification:  c.notification(handle, ev),
		})
		stats.Rewarded++
	}
	return rewards, stats, nil
}

func (c *Cycle) notification(handle string, ev models.Evaluation) string {
	msg := fmt.Sprintf("@%s you earned %s USDC from ClawPay. %s.", handle, ev.RewardAmount, strings.TrimSuffix(ev.Reason, "."))
	if c.policy.ClaimURL != "" {
		msg += fmt.Sprintf(" Claim it at %s?handle=%s", strings.TrimRight(c.policy.ClaimURL, "/"), handle)
	}
	return msg
}

func logStats(skillID string, s Stats) {
	log.Info().
		Str("skill", skillID).
		Int("seen", s.Seen).
		Int("invalid", s.Invalid).
		Int("cooldown", s.Cooldown).
		Int("no_sample", s.NoSample).
		Int("evaluated", s.Evaluated).
		Int("rewarded", s.Rewarded).
		Msg("Discovery run finished")
}
