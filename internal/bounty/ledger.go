// Package bounty runs the bounty lifecycle: posting, proof submission,
// release to a winner and cancellation.
package bounty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/rewards"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidID           = errors.New("malformed bounty id")
	ErrNotFound            = errors.New("bounty not found")
	ErrNotAccepting        = errors.New("bounty is not accepting submissions")
	ErrAssignedElsewhere   = errors.New("bounty is assigned to a different handle")
	ErrDuplicateSubmission = errors.New("handle has already submitted to this bounty")
	ErrInvalidTransition   = errors.New("bounty cannot make that transition")
	ErrNoSubmission        = errors.New("winner has no submission on this bounty")
	ErrBusy                = errors.New("bounty is being modified concurrently, retry")
)

// maxAttempts bounds the optimistic retry loop per operation.
const maxAttempts = 5

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	maxTitle         = 200
	maxDescription   = 5000
	maxTags          = 10
)

// Store is the persistence the ledger needs.
type Store interface {
	store.BountyStore
	store.RewardStore
}

type Ledger struct {
	store Store
	queue *rewards.Queue
	now   func() time.Time
}

func NewLedger(s Store, q *rewards.Queue) *Ledger {
	return &Ledger{store: s, queue: q, now: time.Now}
}

// PostRequest describes a new bounty.
type PostRequest struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Reward       models.Amount `json:"reward"`
	Tags         []string      `json:"tags"`
	Creator      string        `json:"creator"`
	SenderWallet string        `json:"sender_wallet"`
	AssignedTo   string        `json:"assigned_to"`
	Deadline     *time.Time    `json:"deadline"`
	Generated    bool          `json:"-"`
}

// Post creates an open bounty. An assigned bounty also queues its reward in
// the evaluating state so the obligation exists before work starts.
func (l *Ledger) Post(ctx context.Context, req PostRequest) (*models.Bounty, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > maxTitle {
		return nil, models.Invalid("title", "must be 1-%d characters", maxTitle)
	}
	if len(req.Description) > maxDescription {
		return nil, models.Invalid("description", "must be at most %d characters", maxDescription)
	}
	if req.Reward <= 0 {
		return nil, models.Invalid("reward", "must be positive")
	}
	if len(req.Tags) > maxTags {
		return nil, models.Invalid("tags", "at most %d tags", maxTags)
	}
	creator := ""
	if req.Creator != "" {
		c, err := models.ValidateHandle("creator", req.Creator)
		if err != nil {
			return nil, err
		}
		creator = c
	}
	assigned := ""
	if req.AssignedTo != "" {
		a, err := models.ValidateHandle("assigned_to", req.AssignedTo)
		if err != nil {
			return nil, err
		}
		assigned = a
	}
	now := l.now().UTC()
	if req.Deadline != nil && !req.Deadline.After(now) {
		return nil, models.Invalid("deadline", "must be in the future")
	}

	b := &models.Bounty{
		ID:          models.NewID(models.BountyIDPrefix),
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Reward:      req.Reward,
		Tags:        normalizeTags(req.Tags),
		Status:      models.BountyOpen,
		Creator:     creator,
		AssignedTo:  assigned,
		Submissions: []models.Submission{},
		Deadline:    req.Deadline,
		Generated:   req.Generated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if assigned != "" {
		queued, err := l.queue.Enqueue(ctx, []models.Reward{{
			Sender:       creator,
			SenderWallet: req.SenderWallet,
			Recipient:    assigned,
			Amount:       req.Reward,
			Status:       models.RewardEvaluating,
			Reason:       "Bounty: " + title,
			BountyID:     b.ID,
		}})
		if err != nil {
			return nil, err
		}
		b.RewardID = queued[0].ID
	}

	if err := l.store.CreateBounty(ctx, b); err != nil {
		if b.RewardID != "" {
			l.failReward(ctx, b.RewardID, "bounty creation failed")
		}
		return nil, fmt.Errorf("create bounty: %w", err)
	}
	log.Info().Str("bounty_id", b.ID).Str("assigned_to", assigned).Str("reward", b.Reward.String()).Msg("Bounty posted")
	return b, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Get validates the id before looking it up.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Bounty, error) {
	if err := models.ValidateBountyID(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	b, err := l.store.GetBounty(ctx, id)
	if store.IsNotFound(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (l *Ledger) List(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	return l.store.ListBounties(ctx, filter)
}

// errUnchanged aborts a mutation without writing and without failing.
var errUnchanged = errors.New("bounty unchanged")

// mutate re-reads the bounty and applies fn until the version CAS succeeds.
// fn must not write to the store: a losing attempt is discarded and fn runs
// again on the fresh copy. fn returns an error to abort without writing.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(b *models.Bounty) error) (*models.Bounty, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		b, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		version := b.Version
		if err := fn(b); err != nil {
			if errors.Is(err, errUnchanged) {
				return b, nil
			}
			return nil, err
		}
		err = l.store.UpdateBounty(ctx, b, version)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, ErrBusy
}

// Submit records proofURL from handle and moves the bounty to evaluating.
func (l *Ledger) Submit(ctx context.Context, handle, bountyID, proofURL string) (*models.Bounty, error) {
	if err := models.ValidateBountyID(bountyID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	h, err := models.ValidateHandle("username", handle)
	if err != nil {
		return nil, err
	}
	proof, err := models.ValidateProofURL(proofURL)
	if err != nil {
		return nil, err
	}

	b, err := l.mutate(ctx, bountyID, func(b *models.Bounty) error {
		if b.Status != models.BountyOpen && b.Status != models.BountyInProgress {
			return ErrNotAccepting
		}
		if b.AssignedTo != "" && models.NormalizeHandle(b.AssignedTo) != h {
			return ErrAssignedElsewhere
		}
		if _, dup := b.SubmissionBy(h); dup {
			return ErrDuplicateSubmission
		}
		b.Submissions = append(b.Submissions, models.Submission{
			Username:    h,
			Proof:       proof,
			SubmittedAt: l.now().UTC(),
			Status:      models.SubmissionSubmitted,
		})
		b.Status = models.BountyEvaluating
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("bounty_id", bountyID).Str("handle", h).Msg("Bounty submission received")
	return b, nil
}

// Start marks an open bounty as being worked on by handle.
func (l *Ledger) Start(ctx context.Context, bountyID, handle string) (*models.Bounty, error) {
	h, err := models.ValidateHandle("handle", handle)
	if err != nil {
		return nil, err
	}
	return l.mutate(ctx, bountyID, func(b *models.Bounty) error {
		if b.AssignedTo != "" && models.NormalizeHandle(b.AssignedTo) != h {
			return ErrAssignedElsewhere
		}
		switch b.Status {
		case models.BountyOpen:
			b.Status = models.BountyInProgress
			return nil
		case models.BountyInProgress:
			return nil
		default:
			return ErrInvalidTransition
		}
	})
}

// Release pays winner. The bounty commits to the winner and a reward id
// first; the bound reward is then promoted to pending, or created under that
// id. A repeated release for the same winner finishes an interrupted one.
func (l *Ledger) Release(ctx context.Context, bountyID, winner string) (*models.Bounty, error) {
	w, err := models.ValidateHandle("winner", winner)
	if err != nil {
		return nil, err
	}

	b, err := l.mutate(ctx, bountyID, func(b *models.Bounty) error {
		if b.Status == models.BountyCompleted && b.Winner == w && b.RewardID != "" {
			return errUnchanged
		}
		if b.Status != models.BountyEvaluating {
			return ErrInvalidTransition
		}
		if _, ok := b.SubmissionBy(w); !ok {
			return ErrNoSubmission
		}
		for i := range b.Submissions {
			if models.NormalizeHandle(b.Submissions[i].Username) == w {
				b.Submissions[i].Status = models.SubmissionAccepted
			} else {
				b.Submissions[i].Status = models.SubmissionRejected
			}
		}
		if b.RewardID == "" {
			b.RewardID = models.NewID(models.RewardIDPrefix)
		}
		b.Winner = w
		b.Status = models.BountyCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.payWinner(ctx, b); err != nil {
		return nil, fmt.Errorf("bounty %s released, reward %s not queued: %w", b.ID, b.RewardID, err)
	}
	log.Info().Str("bounty_id", bountyID).Str("winner", w).Str("reward_id", b.RewardID).Msg("Bounty released")
	return b, nil
}

// payWinner makes b.RewardID claimable by b.Winner. It only runs on a bounty
// already committed as completed.
func (l *Ledger) payWinner(ctx context.Context, b *models.Bounty) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r, err := l.store.GetReward(ctx, b.RewardID)
		if store.IsNotFound(err) {
			_, err = l.queue.Enqueue(ctx, []models.Reward{{
				ID:        b.RewardID,
				Sender:    b.Creator,
				Recipient: b.Winner,
				Amount:    b.Reward,
				Reason:    "Bounty: " + b.Title,
				BountyID:  b.ID,
			}})
			if errors.Is(err, store.ErrExists) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		switch r.Status {
		case models.RewardPending, models.RewardCompleted:
			return nil
		case models.RewardEvaluating:
			_, err := l.store.UpdateReward(ctx, r.ID,
				func(cur *models.Reward) bool { return cur.Status == models.RewardEvaluating },
				func(cur *models.Reward) {
					cur.Status = models.RewardPending
					cur.Recipient = b.Winner
				})
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		default:
			return fmt.Errorf("reward is %s", r.Status)
		}
	}
	return ErrBusy
}

// Cancel closes the bounty and fails its unreleased reward.
func (l *Ledger) Cancel(ctx context.Context, bountyID string) (*models.Bounty, error) {
	return l.cancel(ctx, bountyID, nil)
}

// cancel runs guard against the freshly read bounty inside the CAS loop.
func (l *Ledger) cancel(ctx context.Context, bountyID string, guard func(b *models.Bounty) error) (*models.Bounty, error) {
	b, err := l.mutate(ctx, bountyID, func(b *models.Bounty) error {
		if guard != nil {
			if err := guard(b); err != nil {
				return err
			}
		}
		switch b.Status {
		case models.BountyDraft, models.BountyOpen, models.BountyInProgress, models.BountyEvaluating:
			b.Status = models.BountyCancelled
			return nil
		default:
			return ErrInvalidTransition
		}
	})
	if err != nil {
		return nil, err
	}

	bound, err := l.store.ListRewards(ctx, models.RewardFilter{BountyID: b.ID})
	if err != nil {
		log.Warn().Err(err).Str("bounty_id", b.ID).Msg("Could not list bounty rewards after cancel")
		return b, nil
	}
	for _, r := range bound {
		if r.Status == models.RewardEvaluating || r.Status == models.RewardPending {
			l.failReward(ctx, r.ID, "bounty cancelled")
		}
	}
	log.Info().Str("bounty_id", b.ID).Msg("Bounty cancelled")
	return b, nil
}

// failReward fails a reward nobody can claim yet: evaluating, or pending
// without a live settlement lease.
func (l *Ledger) failReward(ctx context.Context, rewardID, reason string) {
	now := l.now()
	_, err := l.store.UpdateReward(ctx, rewardID,
		func(r *models.Reward) bool {
			return r.Status == models.RewardEvaluating ||
				(r.Status == models.RewardPending && !r.Leased(now))
		},
		func(r *models.Reward) {
			r.Status = models.RewardFailed
			r.FailureReason = reason
		})
	if errors.Is(err, store.ErrConflict) {
		log.Warn().Str("reward_id", rewardID).Msg("Bounty reward is no longer cancellable, left in place")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("reward_id", rewardID).Msg("Failed to mark bounty reward failed")
	}
}

// ExpireOverdue cancels open bounties past their deadline that received no
// submissions. It returns how many were cancelled.
func (l *Ledger) ExpireOverdue(ctx context.Context) (int, error) {
	open, err := l.store.ListBounties(ctx, models.BountyFilter{Status: models.BountyOpen})
	if err != nil {
		return 0, err
	}
	now := l.now()
	overdue := func(b *models.Bounty) error {
		if b.Status != models.BountyOpen || b.Deadline == nil || b.Deadline.After(now) || len(b.Submissions) > 0 {
			return ErrInvalidTransition
		}
		return nil
	}
	n := 0
	for i := range open {
		if overdue(&open[i]) != nil {
			continue
		}
		if _, err := l.cancel(ctx, open[i].ID, overdue); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				log.Warn().Err(err).Str("bounty_id", open[i].ID).Msg("Failed to expire bounty")
			}
			continue
		}
		n++
	}
	return n, nil
}
