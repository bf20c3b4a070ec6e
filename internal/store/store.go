// Package store provides the typed repositories behind the ClawPay control
// plane. MemoryStore serves local development and tests; PostgresStore is the
// durable backend.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

// Store is the primary storage interface for the control plane.
// All service code depends on this interface, making it easy to swap
// between in-memory (tests) and PostgreSQL (production) implementations.
type Store interface {
	CredentialStore
	AuditStore
	AgentStore
	RewardStore
	BountyStore
	DelegationStore
	ReputationStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates the schema.
	Migrate(ctx context.Context) error
}

// ── Credential Store ────────────────────────────────────────

type CredentialStore interface {
	GetCredential(ctx context.Context, keyHash string) (*models.Credential, error)
	CreateCredential(ctx context.Context, cred *models.Credential) error
	UpdateCredentialStatus(ctx context.Context, keyHash string, status models.CredentialStatus) (*models.Credential, error)
	ListCredentials(ctx context.Context, status models.CredentialStatus) ([]models.Credential, error)
}

// ── Audit Store ─────────────────────────────────────────────

type AuditStore interface {
	// AppendAuditEvent appends to the audit log.
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error

	// ListAuditEvents returns events newest first.
	ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error)

	// PurgeAuditEvents deletes events older than before and returns the count.
	PurgeAuditEvents(ctx context.Context, before time.Time) (int, error)
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	GetAgent(ctx context.Context, username string) (*models.Agent, error)

	// MergeAgent applies the patch, creating the record if it is absent.
	MergeAgent(ctx context.Context, update models.AgentUpdate) (*models.Agent, error)

	// ClaimEvaluation atomically stamps LastEvaluatedAt = now if the agent
	// was never evaluated or was last evaluated at or before cutoff. It returns
	// false when another evaluation is within the cooldown.
	ClaimEvaluation(ctx context.Context, username string, cutoff, now time.Time) (bool, error)

	ListAgents(ctx context.Context, limit int) ([]models.Agent, error)
}

// ── Reward Store ────────────────────────────────────────────

// RewardPredicate decides whether a conditional update may proceed.
type RewardPredicate func(r *models.Reward) bool

// RewardMutation edits a reward copy in place.
type RewardMutation func(r *models.Reward)

type RewardStore interface {
	CreateReward(ctx context.Context, reward *models.Reward) error
	GetReward(ctx context.Context, id string) (*models.Reward, error)
	ListRewards(ctx context.Context, filter models.RewardFilter) ([]models.Reward, error)

	// UpdateReward applies mutate only if pred holds on the current
	// document, as one atomic step. Returns ErrConflict when pred is false.
	UpdateReward(ctx context.Context, id string, pred RewardPredicate, mutate RewardMutation) (*models.Reward, error)
}

// ── Bounty Store ────────────────────────────────────────────

type BountyStore interface {
	CreateBounty(ctx context.Context, bounty *models.Bounty) error
	GetBounty(ctx context.Context, id string) (*models.Bounty, error)
	ListBounties(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, error)

	// UpdateBounty writes bounty only if the stored version equals
	// expectedVersion. The stored version is incremented on success.
	UpdateBounty(ctx context.Context, bounty *models.Bounty, expectedVersion int64) error
}

// ── Delegation Store ────────────────────────────────────────

type DelegationStore interface {
	UpsertDelegation(ctx context.Context, d *models.Delegation) error
	GetDelegation(ctx context.Context, wallet string) (*models.Delegation, error)
}

// ── Reputation Store ────────────────────────────────────────

type ReputationStore interface {
	GetReputation(ctx context.Context, handle string) (*models.Reputation, error)

	// UpdateReputation runs fn on the current record (zero value if absent)
	// and stores the result atomically.
	UpdateReputation(ctx context.Context, handle string, fn func(rec *models.Reputation) error) (*models.Reputation, error)

	// ReplaceReputations swaps the whole collection, used by rebuilds.
	ReplaceReputations(ctx context.Context, records []models.Reputation) error

	ListReputations(ctx context.Context, limit int) ([]models.Reputation, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// ErrConflict is returned when a conditional write's precondition fails.
var ErrConflict = errors.New("store: conditional update conflict")

// ErrExists is returned when creating a record whose key is taken.
var ErrExists = errors.New("store: record already exists")

// walletKey normalizes a hex wallet address for use as a map or row key.
func walletKey(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
