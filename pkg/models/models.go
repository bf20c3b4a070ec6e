// Package models holds the persisted records and value types shared by the
// ClawPay control plane: credentials, agents, rewards, bounties, delegations
// and reputation.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ── Credentials ──────────────────────────────────────────────

type CredentialStatus string

const (
	CredentialPending  CredentialStatus = "pending"
	CredentialApproved CredentialStatus = "approved"
	CredentialRevoked  CredentialStatus = "revoked"
)

// Credential is an agent API key record. Keys are stored by SHA-256 hash
// only; the raw key is shown once at registration.
type Credential struct {
	KeyHash     string           `json:"key_hash"`
	Handle      string           `json:"handle"`
	Status      CredentialStatus `json:"status"`
	Permissions []string         `json:"permissions,omitempty"`
	RateLimit   int              `json:"rate_limit,omitempty"` // requests per window, 0 = default
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ── Audit ────────────────────────────────────────────────────

// AuditEvent is an append-only record of a gated request.
type AuditEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditFilter provides query options for listing audit events.
type AuditFilter struct {
	Type   string
	Handle string
	Since  *time.Time
	Limit  int
}

// ── Evaluation ───────────────────────────────────────────────

type Verdict string

const (
	VerdictReward Verdict = "REWARD"
	VerdictWatch  Verdict = "WATCH"
	VerdictIgnore Verdict = "IGNORE"
	VerdictReject Verdict = "REJECT"
)

// Valid reports whether v is one of the four known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictReward, VerdictWatch, VerdictIgnore, VerdictReject:
		return true
	}
	return false
}

type EvaluationMethod string

const (
	MethodAI        EvaluationMethod = "ai"
	MethodHeuristic EvaluationMethod = "heuristic"
)

// Evaluation is the outcome of scoring one candidate's recent work.
type Evaluation struct {
	Score         int              `json:"score"`
	IsAgent       bool             `json:"is_agent"`
	Verdict       Verdict          `json:"verdict"`
	Reason        string           `json:"reason"`
	RewardAmount  Amount           `json:"reward_amount"`
	Contributions []string         `json:"contributions"`
	Method        EvaluationMethod `json:"method"`
}

// ── Agent ────────────────────────────────────────────────────

// Agent is an external account discovered on a feed. Records are never
// deleted; each evaluation overwrites the previous one by merge.
type Agent struct {
	Username        string           `json:"username"`
	ExternalID      string           `json:"external_id,omitempty"`
	Bio             string           `json:"bio,omitempty"`
	Source          string           `json:"source,omitempty"`
	Score           int              `json:"score"`
	IsAgent         bool             `json:"is_agent"`
	Verdict         Verdict          `json:"verdict,omitempty"`
	RewardAmount    Amount           `json:"reward_amount"`
	Contributions   []string         `json:"contributions,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Method          EvaluationMethod `json:"method,omitempty"`
	TimesEvaluated  int              `json:"times_evaluated"`
	LastEvaluatedAt *time.Time       `json:"last_evaluated_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// AgentUpdate is a merge patch: nil fields leave the stored value untouched.
type AgentUpdate struct {
	Username        string
	ExternalID      *string
	Bio             *string
	Source          *string
	Evaluation      *Evaluation
	LastEvaluatedAt *time.Time
}

// Apply merges u into a. The caller owns a.
func (u AgentUpdate) Apply(a *Agent, now time.Time) {
	if a.Username == "" {
		a.Username = NormalizeHandle(u.Username)
		a.CreatedAt = now
	}
	if u.ExternalID != nil {
		a.ExternalID = *u.ExternalID
	}
	if u.Bio != nil {
		a.Bio = *u.Bio
	}
	if u.Source != nil {
		a.Source = *u.Source
	}
	if e := u.Evaluation; e != nil {
		a.Score = e.Score
		a.IsAgent = e.IsAgent
		a.Verdict = e.Verdict
		a.RewardAmount = e.RewardAmount
		a.Contributions = append([]string(nil), e.Contributions...)
		a.Reason = e.Reason
		a.Method = e.Method
		a.TimesEvaluated++
	}
	if u.LastEvaluatedAt != nil {
		t := *u.LastEvaluatedAt
		a.LastEvaluatedAt = &t
	}
	a.UpdatedAt = now
}

// ── Rewards ──────────────────────────────────────────────────

type RewardStatus string

const (
	// RewardPending is claimable by its recipient.
	RewardPending RewardStatus = "pending"
	// RewardEvaluating is bound to an assigned bounty awaiting release.
	RewardEvaluating RewardStatus = "evaluating"
	RewardCompleted  RewardStatus = "completed"
	RewardFailed     RewardStatus = "failed"
)

// Reward is a recorded, not-yet-settled obligation to pay Amount to
// Recipient. It is settled at most once.
type Reward struct {
	ID            string       `json:"id"`
	Sender        string       `json:"sender"`
	SenderWallet  string       `json:"sender_wallet"`
	Recipient     string       `json:"recipient"`
	Amount        Amount       `json:"amount"`
	Status        RewardStatus `json:"status"`
	ClaimedBy     string       `json:"claimed_by,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	SourceSkillID string       `json:"source_skill_id,omitempty"`
	SourcePostID  string       `json:"source_post_id,omitempty"`
	BountyID      string       `json:"bounty_id,omitempty"`
	Score         int          `json:"score,omitempty"`
	Notification  string       `json:"notification,omitempty"`
	Announced     bool         `json:"announced"`
	AnnounceError string       `json:"announce_error,omitempty"`
	SettlementTx  string       `json:"settlement_tx,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	SettledAt     *time.Time   `json:"settled_at,omitempty"`

	// Settlement lease. Held while a claim attempt talks to the chain.
	LeaseToken     string     `json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// Leased reports whether a settlement attempt currently holds the reward.
func (r *Reward) Leased(now time.Time) bool {
	return r.LeaseToken != "" && r.LeaseExpiresAt != nil && now.Before(*r.LeaseExpiresAt)
}

// RewardFilter narrows reward listings. Empty fields match everything.
type RewardFilter struct {
	Recipient     string
	Status        RewardStatus
	SourceSkillID string
	BountyID      string
	Limit         int
}

// Match reports whether r satisfies the filter (Limit is ignored).
func (f RewardFilter) Match(r *Reward) bool {
	if f.Recipient != "" && r.Recipient != NormalizeHandle(f.Recipient) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.SourceSkillID != "" && r.SourceSkillID != f.SourceSkillID {
		return false
	}
	if f.BountyID != "" && r.BountyID != f.BountyID {
		return false
	}
	return true
}

// ── Bounties ─────────────────────────────────────────────────

type BountyStatus string

const (
	BountyDraft      BountyStatus = "draft"
	BountyOpen       BountyStatus = "open"
	BountyInProgress BountyStatus = "in_progress"
	BountyEvaluating BountyStatus = "evaluating"
	BountyCompleted  BountyStatus = "completed"
	BountyCancelled  BountyStatus = "cancelled"
)

type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionAccepted  SubmissionStatus = "accepted"
	SubmissionRejected  SubmissionStatus = "rejected"
)

type Submission struct {
	Username    string           `json:"username"`
	Proof       string           `json:"proof"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Status      SubmissionStatus `json:"status"`
}

// Bounty is a posted task with a reward. Version increments on every write
// and guards conditional updates.
type Bounty struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Reward      Amount       `json:"reward"`
	Tags        []string     `json:"tags,omitempty"`
	Status      BountyStatus `json:"status"`
	Creator     string       `json:"creator"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	Submissions []Submission `json:"submissions"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
	RewardID    string       `json:"reward_id,omitempty"`
	Winner      string       `json:"winner,omitempty"`
	Generated   bool         `json:"generated,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Version     int64        `json:"version"`
}

// SubmissionBy returns the submission made by handle, if any.
func (b *Bounty) SubmissionBy(handle string) (*Submission, bool) {
	handle = NormalizeHandle(handle)
	for i := range b.Submissions {
		if NormalizeHandle(b.Submissions[i].Username) == handle {
			return &b.Submissions[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (b *Bounty) Clone() *Bounty {
	cp := *b
	cp.Tags = append([]string(nil), b.Tags...)
	cp.Submissions = append([]Submission(nil), b.Submissions...)
	if b.Deadline != nil {
		d := *b.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// BountyFilter narrows bounty listings.
type BountyFilter struct {
	Status BountyStatus
	Limit  int
}

// ── Delegations ──────────────────────────────────────────────

// Delegation records that a wallet approved the settlement authority to
// spend up to AllowanceAmount. Informational: settlement re-reads the chain.
type Delegation struct {
	Wallet          string    `json:"wallet"`
	AllowanceAmount Amount    `json:"allowance_amount"`
	Signature       string    `json:"signature"`
	AuthorizedAt    time.Time `json:"authorized_at"`
}

// ── Reputation ───────────────────────────────────────────────

type TrustTier string

const (
	TierNewcomer    TrustTier = "NEWCOMER"
	TierContributor TrustTier = "CONTRIBUTOR"
	TierTrusted     TrustTier = "TRUSTED"
	TierElite       TrustTier = "ELITE"
	TierLegendary   TrustTier = "LEGENDARY"
)

// Reputation is derived from settled rewards and can be rebuilt from them.
type Reputation struct {
	Handle            string    `json:"handle"`
	CumulativeScore   int       `json:"cumulative_score"`
	TotalEarned       Amount    `json:"total_earned"`
	TimesEvaluated    int       `json:"times_evaluated"`
	BountiesCompleted int       `json:"bounties_completed"`
	TrustTier         TrustTier `json:"trust_tier"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ── IDs ──────────────────────────────────────────────────────

const (
	RewardIDPrefix = "rwd_"
	BountyIDPrefix = "bty_"
	AuditIDPrefix  = "aud_"
)

// NewID returns prefix followed by 32 lowercase hex characters.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}
