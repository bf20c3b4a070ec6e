package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

// DefaultQuery is searched when FeedConfig.Query is empty.
const DefaultQuery = `("built" OR "shipped" OR "open source" OR "agent") -is:retweet`

// FeedConfig configures the social feed skill.
type FeedConfig struct {
	Query      string
	MaxRewards int
	Cooldown   time.Duration
}

// FeedSkill discovers agents on the social feed and replies to the post
// that surfaced them.
type FeedSkill struct {
	cycle *Cycle
	feed  contracts.SocialFeed
	cfg   FeedConfig
}

func NewFeedSkill(cycle *Cycle, feed contracts.SocialFeed, cfg FeedConfig) *FeedSkill {
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	return &FeedSkill{cycle: cycle, feed: feed, cfg: cfg}
}

func (s *FeedSkill) ID() string { return FeedSkillID }

func (s *FeedSkill) Run(ctx context.Context) ([]models.Reward, error) {
	return s.cycle.Run(ctx, s.cfg.Query, s.cfg.MaxRewards, s.cfg.Cooldown)
}

func (s *FeedSkill) Announce(ctx context.Context, r models.Reward) error {
	if r.SourcePostID == "" || r.Notification == "" {
		return nil
	}
	if err := s.feed.Reply(ctx, r.SourcePostID, r.Notification); err != nil {
		return fmt.Errorf("reply to %s: %w", r.SourcePostID, err)
	}
	return nil
}
