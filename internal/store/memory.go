// Package store provides the in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Credentials map[string]*models.Credential `json:"credentials"`
	AuditEvents []*models.AuditEvent          `json:"audit_events"`
	Agents      map[string]*models.Agent      `json:"agents"`
	Rewards     map[string]*models.Reward     `json:"rewards"`
	Bounties    map[string]*models.Bounty     `json:"bounties"`
	Delegations map[string]*models.Delegation `json:"delegations"`
	Reputation  map[string]*models.Reputation `json:"reputation"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential // key: key hash
	auditEvents []*models.AuditEvent          // append-only log
	agents      map[string]*models.Agent      // key: normalized username
	rewards     map[string]*models.Reward     // key: id
	bounties    map[string]*models.Bounty     // key: id
	delegations map[string]*models.Delegation // key: lowercased wallet
	reputation  map[string]*models.Reputation // key: normalized handle

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty the
// store is persisted to dataDir/clawpay.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		credentials: make(map[string]*models.Credential),
		agents:      make(map[string]*models.Agent),
		rewards:     make(map[string]*models.Reward),
		bounties:    make(map[string]*models.Bounty),
		delegations: make(map[string]*models.Delegation),
		reputation:  make(map[string]*models.Reputation),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "clawpay.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Credentials: m.credentials,
		AuditEvents: m.auditEvents,
		Agents:      m.agents,
		Rewards:     m.rewards,
		Bounties:    m.bounties,
		Delegations: m.delegations,
		Reputation:  m.reputation,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Credentials != nil {
		m.credentials = snap.Credentials
	}
	if snap.AuditEvents != nil {
		m.auditEvents = snap.AuditEvents
	}
	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Rewards != nil {
		m.rewards = snap.Rewards
	}
	if snap.Bounties != nil {
		m.bounties = snap.Bounties
	}
	if snap.Delegations != nil {
		m.delegations = snap.Delegations
	}
	if snap.Reputation != nil {
		m.reputation = snap.Reputation
	}

	log.Info().
		Int("agents", len(m.agents)).
		Int("rewards", len(m.rewards)).
		Int("bounties", len(m.bounties)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}
	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func applyLimit[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// ── Credential Store ────────────────────────────────────────

func (m *MemoryStore) GetCredential(_ context.Context, keyHash string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[keyHash]
	if !ok {
		return nil, &ErrNotFound{Entity: "credential", Key: keyHash}
	}
	cp := *c
	cp.Permissions = append([]string(nil), c.Permissions...)
	return &cp, nil
}

func (m *MemoryStore) CreateCredential(_ context.Context, cred *models.Credential) error {
	m.mu.Lock()
	if _, ok := m.credentials[cred.KeyHash]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	cp := *cred
	m.credentials[cred.KeyHash] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateCredentialStatus(_ context.Context, keyHash string, status models.CredentialStatus) (*models.Credential, error) {
	m.mu.Lock()
	c, ok := m.credentials[keyHash]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "credential", Key: keyHash}
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	m.mu.Unlock()
	m.requestSave()
	return &cp, nil
}

func (m *MemoryStore) ListCredentials(_ context.Context, status models.CredentialStatus) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Credential
	for _, c := range m.credentials {
		if status == "" || c.Status == status {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// ── Audit Store ─────────────────────────────────────────────

func (m *MemoryStore) AppendAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	cp := *event
	m.auditEvents = append(m.auditEvents, &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, filter models.AuditFilter) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AuditEvent
	// Newest first
	for i := len(m.auditEvents) - 1; i >= 0; i-- {
		e := m.auditEvents[i]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Handle != "" && e.Handle != filter.Handle {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		result = append(result, *e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) PurgeAuditEvents(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	kept := m.auditEvents[:0]
	purged := 0
	for _, e := range m.auditEvents {
		if e.Timestamp.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.auditEvents = kept
	m.mu.Unlock()
	if purged > 0 {
		m.requestSave()
	}
	return purged, nil
}

// ── Agent Store ─────────────────────────────────────────────

func cloneAgent(a *models.Agent) *models.Agent {
	cp := *a
	cp.Contributions = append([]string(nil), a.Contributions...)
	if a.LastEvaluatedAt != nil {
		t := *a.LastEvaluatedAt
		cp.LastEvaluatedAt = &t
	}
	return &cp
}

func (m *MemoryStore) GetAgent(_ context.Context, username string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[models.NormalizeHandle(username)]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: username}
	}
	return cloneAgent(a), nil
}

func (m *MemoryStore) MergeAgent(_ context.Context, update models.AgentUpdate) (*models.Agent, error) {
	k := models.NormalizeHandle(update.Username)
	m.mu.Lock()
	a, ok := m.agents[k]
	if !ok {
		a = &models.Agent{}
		m.agents[k] = a
	}
	update.Apply(a, time.Now().UTC())
	out := cloneAgent(a)
	m.mu.Unlock()
	m.requestSave()
	return out, nil
}

func (m *MemoryStore) ClaimEvaluation(_ context.Context, username string, cutoff, now time.Time) (bool, error) {
	k := models.NormalizeHandle(username)
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[k]
	if !ok {
		a = &models.Agent{Username: k, CreatedAt: now}
		m.agents[k] = a
	}
	if a.LastEvaluatedAt != nil && a.LastEvaluatedAt.After(cutoff) {
		return false, nil
	}
	t := now
	a.LastEvaluatedAt = &t
	a.UpdatedAt = now
	m.requestSave()
	return true, nil
}

func (m *MemoryStore) ListAgents(_ context.Context, limit int) ([]models.Agent, error) {
	m.mu.RLock()
	var result []models.Agent
	for _, a := range m.agents {
		result = append(result, *cloneAgent(a))
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return applyLimit(result, limit), nil
}

// ── Reward Store ────────────────────────────────────────────

func cloneReward(r *models.Reward) *models.Reward {
	cp := *r
	if r.SettledAt != nil {
		t := *r.SettledAt
		cp.SettledAt = &t
	}
	if r.LeaseExpiresAt != nil {
		t := *r.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	return &cp
}

func (m *MemoryStore) CreateReward(_ context.Context, reward *models.Reward) error {
	m.mu.Lock()
	if _, ok := m.rewards[reward.ID]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	m.rewards[reward.ID] = cloneReward(reward)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetReward(_ context.Context, id string) (*models.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rewards[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "reward", Key: id}
	}
	return cloneReward(r), nil
}

func (m *MemoryStore) ListRewards(_ context.Context, filter models.RewardFilter) ([]models.Reward, error) {
	m.mu.RLock()
	var result []models.Reward
	for _, r := range m.rewards {
		if filter.Match(r) {
			result = append(result, *cloneReward(r))
		}
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return applyLimit(result, filter.Limit), nil
}

// UpdateReward evaluates pred and applies mutate under the write lock, so
// the check and the write form one critical section.
func (m *MemoryStore) UpdateReward(_ context.Context, id string, pred RewardPredicate, mutate RewardMutation) (*models.Reward, error) {
	m.mu.Lock()
	r, ok := m.rewards[id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "reward", Key: id}
	}
	if pred != nil && !pred(cloneReward(r)) {
		m.mu.Unlock()
		return nil, ErrConflict
	}
	next := cloneReward(r)
	mutate(next)
	next.ID = id
	next.UpdatedAt = time.Now().UTC()
	m.rewards[id] = next
	out := cloneReward(next)
	m.mu.Unlock()
	m.requestSave()
	return out, nil
}

// ── Bounty Store ────────────────────────────────────────────

func (m *MemoryStore) CreateBounty(_ context.Context, bounty *models.Bounty) error {
	m.mu.Lock()
	if _, ok := m.bounties[bounty.ID]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	cp := bounty.Clone()
	cp.Version = 1
	bounty.Version = 1
	m.bounties[bounty.ID] = cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetBounty(_ context.Context, id string) (*models.Bounty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bounties[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "bounty", Key: id}
	}
	return b.Clone(), nil
}

func (m *MemoryStore) ListBounties(_ context.Context, filter models.BountyFilter) ([]models.Bounty, error) {
	m.mu.RLock()
	var result []models.Bounty
	for _, b := range m.bounties {
		if filter.Status == "" || b.Status == filter.Status {
			result = append(result, *b.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return applyLimit(result, filter.Limit), nil
}

func (m *MemoryStore) UpdateBounty(_ context.Context, bounty *models.Bounty, expectedVersion int64) error {
	m.mu.Lock()
	cur, ok := m.bounties[bounty.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "bounty", Key: bounty.ID}
	}
	if cur.Version != expectedVersion {
		m.mu.Unlock()
		return ErrConflict
	}
	next := bounty.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	m.bounties[bounty.ID] = next
	bounty.Version = next.Version
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Delegation Store ────────────────────────────────────────

func (m *MemoryStore) UpsertDelegation(_ context.Context, d *models.Delegation) error {
	m.mu.Lock()
	cp := *d
	m.delegations[walletKey(d.Wallet)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetDelegation(_ context.Context, wallet string) (*models.Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegations[walletKey(wallet)]
	if !ok {
		return nil, &ErrNotFound{Entity: "delegation", Key: wallet}
	}
	cp := *d
	return &cp, nil
}

// ── Reputation Store ────────────────────────────────────────

func (m *MemoryStore) GetReputation(_ context.Context, handle string) (*models.Reputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reputation[models.NormalizeHandle(handle)]
	if !ok {
		return nil, &ErrNotFound{Entity: "reputation", Key: handle}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateReputation(_ context.Context, handle string, fn func(rec *models.Reputation) error) (*models.Reputation, error) {
	k := models.NormalizeHandle(handle)
	m.mu.Lock()
	rec := models.Reputation{Handle: k}
	if cur, ok := m.reputation[k]; ok {
		rec = *cur
	}
	if err := fn(&rec); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	rec.Handle = k
	m.reputation[k] = &rec
	out := rec
	m.mu.Unlock()
	m.requestSave()
	return &out, nil
}

func (m *MemoryStore) ReplaceReputations(_ context.Context, records []models.Reputation) error {
	next := make(map[string]*models.Reputation, len(records))
	for i := range records {
		rec := records[i]
		rec.Handle = models.NormalizeHandle(rec.Handle)
		next[rec.Handle] = &rec
	}
	m.mu.Lock()
	m.reputation = next
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListReputations(_ context.Context, limit int) ([]models.Reputation, error) {
	m.mu.RLock()
	var result []models.Reputation
	for _, r := range m.reputation {
		result = append(result, *r)
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].CumulativeScore != result[j].CumulativeScore {
			return result[i].CumulativeScore > result[j].CumulativeScore
		}
		return result[i].Handle < result[j].Handle
	})
	return applyLimit(result, limit), nil
}
