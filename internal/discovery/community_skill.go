package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/challenge"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// CommunityConfig configures the community feed skill.
type CommunityConfig struct {
	Feed       string
	Limit      int
	MinLength  int
	MaxRewards int
	Cooldown   time.Duration
}

// CommunitySkill discovers agents from community submissions. Its
// notification comments pass an arithmetic verification challenge.
type CommunitySkill struct {
	cycle *Cycle
	feed  contracts.CommunityFeed
	cfg   CommunityConfig
	solve func(string) string
}

func NewCommunitySkill(cycle *Cycle, feed contracts.CommunityFeed, cfg CommunityConfig) *CommunitySkill {
	if cfg.Feed == "" {
		cfg.Feed = "general"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSearchLimit
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	return &CommunitySkill{cycle: cycle, feed: feed, cfg: cfg, solve: challenge.Solve}
}

func (s *CommunitySkill) ID() string { return CommunitySkillID }

func (s *CommunitySkill) Run(ctx context.Context) ([]models.Reward, error) {
	posts, err := s.feed.ListPosts(ctx, s.cfg.Feed, s.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("discovery: list community posts: %w", err)
	}

	// Group by author, keeping first-appearance order.
	byAuthor := make(map[string]*candidate)
	var order []string
	filtered := 0
	for _, p := range posts {
		text := strings.TrimSpace(p.Title + "\n" + p.Content)
		if reason := spamReason(text, s.cfg.MinLength); reason != "" {
			filtered++
			log.Debug().Str("skill", CommunitySkillID).Str("post", p.ID).Str("reason", reason).Msg("Submission filtered")
			continue
		}
		h := models.NormalizeHandle(p.Author)
		if h == "" {
			continue
		}
		c, ok := byAuthor[h]
		if !ok {
			c = &candidate{ExternalID: h, Username: h, Bio: p.AuthorBio, PostID: p.ID}
			byAuthor[h] = c
			order = append(order, h)
		}
		c.Texts = append(c.Texts, text)
	}

	batch := make([]candidate, 0, len(order))
	for _, h := range order {
		batch = append(batch, *byAuthor[h])
	}
	log.Debug().Str("skill", CommunitySkillID).Int("posts", len(posts)).Int("filtered", filtered).Int("authors", len(batch)).Msg("Community batch built")

	rewards, stats, err := s.cycle.process(ctx, CommunitySkillID, batch, presampled, s.cfg.MaxRewards, s.cfg.Cooldown)
	logStats(CommunitySkillID, stats)
	return rewards, err
}

func presampled(_ context.Context, c candidate, limit int) ([]string, error) {
	if len(c.Texts) > limit {
		return c.Texts[:limit], nil
	}
	return c.Texts, nil
}

// Announce comments on the source post and answers the verification
// challenge so the comment becomes visible.
func (s *CommunitySkill) Announce(ctx context.Context, r models.Reward) error {
	if r.SourcePostID == "" || r.Notification == "" {
		return nil
	}
	receipt, err := s.feed.CreateComment(ctx, r.SourcePostID, r.Notification)
	if err != nil {
		return fmt.Errorf("comment on %s: %w", r.SourcePostID, err)
	}
	v := receipt.Verification
	if v == nil {
		return nil
	}
	answer := s.solve(v.Challenge)
	if err := s.feed.Verify(ctx, v.Code, answer); err != nil {
		return fmt.Errorf("verify comment %s with %s: %w", receipt.ID, answer, err)
	}
	log.Debug().Str("comment", receipt.ID).Str("answer", answer).Msg("Comment verified")
	return nil
}
