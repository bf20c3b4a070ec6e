package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultInterval is the time between discovery cycles.
const DefaultInterval = 30 * time.Minute

// DefaultCycleTimeout bounds one full cycle.
const DefaultCycleTimeout = 10 * time.Minute

// markTimeout bounds the announce bookkeeping write after a cycle deadline.
const markTimeout = 5 * time.Second

// ErrCycleInProgress is returned by RunOnce while another cycle runs.
var ErrCycleInProgress = errors.New("discovery: cycle already in progress")

// Enqueuer persists rewards.
// Implementation: internal/rewards.Queue
type Enqueuer interface {
	Enqueue(ctx context.Context, batch []models.Reward) ([]models.Reward, error)
	MarkAnnounced(ctx context.Context, id string, announceErr error) error
}

// SchedulerConfig configures the periodic driver.
type SchedulerConfig struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	// RunAtStart runs one cycle immediately when Run begins.
	RunAtStart bool
}

// SkillReport is the outcome of one skill within a cycle.
type SkillReport struct {
	Skill          string          `json:"skill"`
	Rewards        []models.Reward `json:"rewards"`
	Rejected       int             `json:"rejected,omitempty"`
	Announced      int             `json:"announced"`
	AnnounceFailed int             `json:"announce_failed,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Report is the outcome of one cycle.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Skills     []SkillReport `json:"skills"`
}

// Rewards returns every reward persisted during the cycle.
func (r *Report) Rewards() []models.Reward {
	var out []models.Reward
	for _, s := range r.Skills {
		out = append(out, s.Rewards...)
	}
	return out
}

// Scheduler runs skills periodically. Cycles never overlap.
type Scheduler struct {
	skills  []Skill
	queue   Enqueuer
	cfg     SchedulerConfig
	running atomic.Bool
	tracer  trace.Tracer
}

func NewScheduler(queue Enqueuer, cfg SchedulerConfig, skills ...Skill) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	return &Scheduler{
		skills: skills,
		queue:  queue,
		cfg:    cfg,
		tracer: otel.Tracer("clawpay/discovery"),
	}
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Skills returns the ids of the configured skills.
func (s *Scheduler) Skills() []string {
	ids := make([]string, len(s.skills))
	for i, sk := range s.skills {
		ids[i] = sk.ID()
	}
	return ids
}

// Run blocks, running a cycle every interval until ctx is cancelled.
// A tick that lands while a cycle is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Strs("skills", s.Skills()).
		Msg("Discovery scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunAtStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Discovery scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Discovery cycle did not run")
	}
}

// RunOnce runs every skill once and persists their rewards.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "discovery.cycle")
	defer span.End()

	report := &Report{StartedAt: time.Now().UTC()}
	for _, sk := range s.skills {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
		report.Skills = append(report.Skills, s.runSkill(ctx, sk))
	}
	report.FinishedAt = time.Now().UTC()

	total := len(report.Rewards())
	span.SetAttributes(attribute.Int("rewards", total))
	log.Info().Int("rewards", total).Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).Msg("Discovery cycle complete")
	return report, nil
}

// runSkill isolates one skill: its failure does not stop the others, and a
// failed announcement never touches the reward's status.
func (s *Scheduler) runSkill(ctx context.Context, sk Skill) SkillReport {
	ctx, span := s.tracer.Start(ctx, "discovery.skill", trace.WithAttributes(attribute.String("skill", sk.ID())))
	defer span.End()

	rep := SkillReport{Skill: sk.ID()}
	candidates, err := sk.Run(ctx)
	if err != nil {
		rep.Error = err.Error()
		span.RecordError(err)
		log.Warn().Err(err).Str("skill", sk.ID()).Int("candidates", len(candidates)).Msg("Skill run failed")
	}

	for _, c := range candidates {
		stored, err := s.queue.Enqueue(ctx, []models.Reward{c})
		if err != nil {
			rep.Rejected++
			log.Warn().Err(err).Str("skill", sk.ID()).Str("handle", c.Recipient).Msg("Reward not queued")
			continue
		}
		rep.Rewards = append(rep.Rewards, stored...)
	}

	for _, r := range rep.Rewards {
		aerr := sk.Announce(ctx, r)
		if aerr != nil {
			rep.AnnounceFailed++
			log.Warn().Err(aerr).Str("skill", sk.ID()).Str("reward_id", r.ID).Msg("Announcement failed, reward stands")
		} else {
			rep.Announced++
		}
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
		if err := s.queue.MarkAnnounced(mctx, r.ID, aerr); err != nil {
			log.Warn().Err(err).Str("reward_id", r.ID).Msg("Could not record announcement outcome")
		}
		cancel()
	}
	return rep
}
