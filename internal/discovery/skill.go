// Package discovery finds agents doing useful work on public feeds, scores
// them and turns good evaluations into pending rewards.
//
// Each source is a Skill. The Scheduler runs a fixed list of skills on an
// interval, persists what they produce through the reward queue and then
// posts the courtesy notifications. Cooldown, per-cycle caps and batch
// deduplication live in Cycle and are shared by every skill.
package discovery

import (
	"context"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

// Skill is one discovery source.
type Skill interface {
	// ID names the skill. It is recorded as the reward's source.
	ID() string

	// Run produces reward candidates. Candidates are not yet persisted.
	Run(ctx context.Context) ([]models.Reward, error)

	// Announce posts the public notification for a persisted reward.
	// Its failure never affects the reward.
	Announce(ctx context.Context, r models.Reward) error
}

// Skill ids.
const (
	FeedSkillID      = "feed"
	CommunitySkillID = "community"
)
