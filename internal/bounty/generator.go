package bounty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/llm"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultThemes cycle through generated bounties.
var DefaultThemes = []string{
	"developer tooling",
	"documentation",
	"security review",
	"test coverage",
	"data analysis",
	"integrations",
	"community onboarding",
}

// ThemeRotator hands out themes round-robin. Each instance owns its index.
type ThemeRotator struct {
	mu     sync.Mutex
	themes []string
	next   int
}

func NewThemeRotator(themes []string) *ThemeRotator {
	if len(themes) == 0 {
		themes = DefaultThemes
	}
	return &ThemeRotator{themes: append([]string(nil), themes...)}
}

func (r *ThemeRotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.themes[r.next%len(r.themes)]
	r.next = (r.next + 1) % len(r.themes)
	return t
}

// Draft is an unposted bounty proposal.
type Draft struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Reward      models.Amount `json:"reward"`
	Tags        []string      `json:"tags"`
	Theme       string        `json:"theme"`
}

// GeneratorConfig bounds generated bounties.
type GeneratorConfig struct {
	Creator       string
	DefaultReward models.Amount
	MaxReward     models.Amount
	Deadline      time.Duration
	Timeout       time.Duration
}

// Generator drafts bounties with the language model, falling back to a
// fixed template per theme.
type Generator struct {
	completer contracts.Completer
	rotator   *ThemeRotator
	ledger    *Ledger
	cfg       GeneratorConfig
}

func NewGenerator(completer contracts.Completer, rotator *ThemeRotator, ledger *Ledger, cfg GeneratorConfig) *Generator {
	if cfg.DefaultReward <= 0 {
		cfg.DefaultReward = models.Whole(5)
	}
	if cfg.MaxReward <= 0 {
		cfg.MaxReward = models.Whole(25)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 7 * 24 * time.Hour
	}
	return &Generator{completer: completer, rotator: rotator, ledger: ledger, cfg: cfg}
}

// Draft proposes one bounty on the next theme.
func (g *Generator) Draft(ctx context.Context) Draft {
	theme := g.rotator.Next()
	if g.completer != nil {
		d, err := g.draftRemote(ctx, theme)
		if err == nil {
			return d
		}
		log.Warn().Err(err).Str("theme", theme).Msg("Bounty drafting via model failed, using template")
	}
	return g.template(theme)
}

func (g *Generator) draftRemote(ctx context.Context, theme string) (Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Propose one small, verifiable task for autonomous software agents on the theme %q.
The work must produce a public link as proof (repository, pull request, post or document).
Reply with only JSON: {"title": string, "description": string, "reward": number (1-%s USDC), "tags": [string]}`,
		theme, g.cfg.MaxReward)
	text, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return Draft{}, err
	}
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return Draft{}, fmt.Errorf("no JSON object in model response")
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Draft{}, fmt.Errorf("decoding draft: %w", err)
	}
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" || len(d.Title) > maxTitle {
		return Draft{}, fmt.Errorf("draft title missing or too long")
	}
	if len(d.Description) > maxDescription {
		d.Description = d.Description[:maxDescription]
	}
	if d.Reward <= 0 || d.Reward > g.cfg.MaxReward {
		d.Reward = g.cfg.DefaultReward
	}
	d.Theme = theme
	d.Tags = append(d.Tags, theme)
	if len(d.Tags) > maxTags {
		d.Tags = d.Tags[len(d.Tags)-maxTags:]
	}
	return d, nil
}

func (g *Generator) template(theme string) Draft {
	return Draft{
		Title:       fmt.Sprintf("Ship a useful %s contribution", theme),
		Description: fmt.Sprintf("Make a concrete, public improvement in the area of %s for an open project agents rely on. Submit a link to the merged change or published artifact as proof.", theme),
		Reward:      g.cfg.DefaultReward,
		Tags:        []string{theme, "generated"},
		Theme:       theme,
	}
}

// Generate drafts and posts n bounties.
func (g *Generator) Generate(ctx context.Context, n int) ([]*models.Bounty, error) {
	out := make([]*models.Bounty, 0, n)
	for i := 0; i < n; i++ {
		d := g.Draft(ctx)
		deadline := time.Now().UTC().Add(g.cfg.Deadline)
		b, err := g.ledger.Post(ctx, PostRequest{
			Title:       d.Title,
			Description: d.Description,
			Reward:      d.Reward,
			Tags:        d.Tags,
			Creator:     g.cfg.Creator,
			Deadline:    &deadline,
			Generated:   true,
		})
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}
