package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// Collections. One table per collection, each row a JSON document plus a
// version used for conditional writes.
const (
	tblCredentials = "cp_credentials"
	tblAgents      = "cp_agents"
	tblRewards     = "cp_rewards"
	tblBounties    = "cp_bounties"
	tblDelegations = "cp_delegations"
	tblReputation  = "cp_reputation"
	tblAudit       = "cp_audit_events"
)

// maxCASAttempts bounds optimistic retry loops when concurrent writers race
// on the same row.
const maxCASAttempts = 8

// PostgresStore implements Store on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := ""
	for _, t := range []string{tblCredentials, tblAgents, tblRewards, tblBounties, tblDelegations, tblReputation} {
		ddl += fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`, t)
	}
	ddl += fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id  TEXT PRIMARY KEY,
			ts  TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_ts ON %[1]s (ts);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_recipient ON %[2]s ((doc->>'recipient'));
		CREATE INDEX IF NOT EXISTS idx_%[3]s_status ON %[3]s ((doc->>'status'));
	`, tblAudit, tblRewards, tblBounties)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Document helpers ────────────────────────────────────────

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDoc(ctx context.Context, q querier, table, id string, out any, lock bool) (int64, error) {
	sql := fmt.Sprintf(`SELECT doc, version FROM %s WHERE id = $1`, table)
	if lock {
		sql += " FOR UPDATE"
	}
	var raw []byte
	var version int64
	if err := q.QueryRow(ctx, sql, id).Scan(&raw, &version); err != nil {
		return 0, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, fmt.Errorf("decode %s/%s: %w", table, id, err)
	}
	return version, nil
}

func (s *PostgresStore) get(ctx context.Context, table, entity, id string, out any) (int64, error) {
	v, err := getDoc(ctx, s.pool, table, id, out, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &ErrNotFound{Entity: entity, Key: id}
	}
	return v, err
}

func (s *PostgresStore) insert(ctx context.Context, table, id string, createdAt time.Time, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, doc, created_at) VALUES ($1, $2::jsonb, $3) ON CONFLICT (id) DO NOTHING`, table),
		id, string(data), createdAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) upsert(ctx context.Context, table, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, version = %s.version + 1, updated_at = NOW()`, table, table),
		id, string(data))
	return err
}

// cas writes doc only if the row is still at version. Reports whether the
// write happened.
func (s *PostgresStore) cas(ctx context.Context, table, id string, version int64, doc any) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET doc = $1::jsonb, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3`, table),
		string(data), id, version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func listDocs[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed stored document")
			continue
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// ── Credential Store ────────────────────────────────────────

func (s *PostgresStore) GetCredential(ctx context.Context, keyHash string) (*models.Credential, error) {
	var c models.Credential
	if _, err := s.get(ctx, tblCredentials, "credential", keyHash, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCredential(ctx context.Context, cred *models.Credential) error {
	return s.insert(ctx, tblCredentials, cred.KeyHash, cred.CreatedAt, cred)
}

func (s *PostgresStore) UpdateCredentialStatus(ctx context.Context, keyHash string, status models.CredentialStatus) (*models.Credential, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var c models.Credential
		version, err := s.get(ctx, tblCredentials, "credential", keyHash, &c)
		if err != nil {
			return nil, err
		}
		c.Status = status
		c.UpdatedAt = time.Now().UTC()
		ok, err := s.cas(ctx, tblCredentials, keyHash, version, &c)
		if err != nil {
			return nil, err
		}
		if ok {
			return &c, nil
		}
	}
	return nil, ErrConflict
}

func (s *PostgresStore) ListCredentials(ctx context.Context, status models.CredentialStatus) ([]models.Credential, error) {
	if status == "" {
		return listDocs[models.Credential](ctx, s.pool,
			fmt.Sprintf(`SELECT doc FROM %s ORDER BY created_at`, tblCredentials))
	}
	return listDocs[models.Credential](ctx, s.pool,
		fmt.Sprintf(`SELECT doc FROM %s WHERE doc->>'status' = $1 ORDER BY created_at`, tblCredentials), string(status))
}

// ── Audit Store ─────────────────────────────────────────────

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, ts, doc) VALUES ($1, $2, $3::jsonb) ON CONFLICT (id) DO NOTHING`, tblAudit),
		event.ID, event.Timestamp, string(data))
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error) {
	sql := fmt.Sprintf(`SELECT doc FROM %s WHERE ($1 = '' OR doc->>'type' = $1) AND ($2 = '' OR doc->>'handle' = $2)`, tblAudit)
	args := []any{filter.Type, filter.Handle}
	if filter.Since != nil {
		sql += " AND ts >= $3"
		args = append(args, *filter.Since)
	}
	sql += " ORDER BY ts DESC" + limitClause(filter.Limit)
	return listDocs[models.AuditEvent](ctx, s.pool, sql, args...)
}

func (s *PostgresStore) PurgeAuditEvents(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, tblAudit), before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ── Agent Store ─────────────────────────────────────────────

func (s *PostgresStore) GetAgent(ctx context.Context, username string) (*models.Agent, error) {
	var a models.Agent
	if _, err := s.get(ctx, tblAgents, "agent", models.NormalizeHandle(username), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) MergeAgent(ctx context.Context, update models.AgentUpdate) (*models.Agent, error) {
	id := models.NormalizeHandle(update.Username)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var a models.Agent
		version, err := s.get(ctx, tblAgents, "agent", id, &a)
		switch {
		case IsNotFound(err):
			update.Apply(&a, time.Now().UTC())
			if err := s.insert(ctx, tblAgents, id, a.CreatedAt, &a); err == nil {
				return &a, nil
			} else if !errors.Is(err, ErrExists) {
				return nil, err
			}
			continue
		case err != nil:
			return nil, err
		}
		update.Apply(&a, time.Now().UTC())
		ok, err := s.cas(ctx, tblAgents, id, version, &a)
		if err != nil {
			return nil, err
		}
		if ok {
			return &a, nil
		}
	}
	return nil, ErrConflict
}

func (s *PostgresStore) ClaimEvaluation(ctx context.Context, username string, cutoff, now time.Time) (bool, error) {
	id := models.NormalizeHandle(username)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var a models.Agent
		version, err := s.get(ctx, tblAgents, "agent", id, &a)
		switch {
		case IsNotFound(err):
			t := now
			a = models.Agent{Username: id, LastEvaluatedAt: &t, CreatedAt: now, UpdatedAt: now}
			if err := s.insert(ctx, tblAgents, id, now, &a); err == nil {
				return true, nil
			} else if !errors.Is(err, ErrExists) {
				return false, err
			}
			continue
		case err != nil:
			return false, err
		}
		if a.LastEvaluatedAt != nil && a.LastEvaluatedAt.After(cutoff) {
			return false, nil
		}
		t := now
		a.LastEvaluatedAt = &t
		a.UpdatedAt = now
		ok, err := s.cas(ctx, tblAgents, id, version, &a)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, ErrConflict
}

func (s *PostgresStore) ListAgents(ctx context.Context, limit int) ([]models.Agent, error) {
	return listDocs[models.Agent](ctx, s.pool,
		fmt.Sprintf(`SELECT doc FROM %s ORDER BY updated_at DESC`, tblAgents)+limitClause(limit))
}

// ── Reward Store ────────────────────────────────────────────

func (s *PostgresStore) CreateReward(ctx context.Context, reward *models.Reward) error {
	return s.insert(ctx, tblRewards, reward.ID, reward.CreatedAt, reward)
}

func (s *PostgresStore) GetReward(ctx context.Context, id string) (*models.Reward, error) {
	var r models.Reward
	if _, err := s.get(ctx, tblRewards, "reward", id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRewards(ctx context.Context, filter models.RewardFilter) ([]models.Reward, error) {
	recipient := ""
	if filter.Recipient != "" {
		recipient = models.NormalizeHandle(filter.Recipient)
	}
	sql := fmt.Sprintf(`SELECT doc FROM %s
		WHERE ($1 = '' OR doc->>'recipient' = $1)
		  AND ($2 = '' OR doc->>'status' = $2)
		  AND ($3 = '' OR doc->>'source_skill_id' = $3)
		  AND ($4 = '' OR doc->>'bounty_id' = $4)
		ORDER BY created_at DESC`, tblRewards) + limitClause(filter.Limit)
	return listDocs[models.Reward](ctx, s.pool, sql, recipient, string(filter.Status), filter.SourceSkillID, filter.BountyID)
}

// UpdateReward re-reads and re-checks pred on every version race, so the
// predicate always holds against the document that is overwritten.
func (s *PostgresStore) UpdateReward(ctx context.Context, id string, pred RewardPredicate, mutate RewardMutation) (*models.Reward, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var r models.Reward
		version, err := s.get(ctx, tblRewards, "reward", id, &r)
		if err != nil {
			return nil, err
		}
		if pred != nil && !pred(&r) {
			return nil, ErrConflict
		}
		mutate(&r)
		r.ID = id
		r.UpdatedAt = time.Now().UTC()
		ok, err := s.cas(ctx, tblRewards, id, version, &r)
		if err != nil {
			return nil, err
		}
		if ok {
			return &r, nil
		}
	}
	return nil, ErrConflict
}

// ── Bounty Store ────────────────────────────────────────────

func (s *PostgresStore) CreateBounty(ctx context.Context, bounty *models.Bounty) error {
	bounty.Version = 1
	return s.insert(ctx, tblBounties, bounty.ID, bounty.CreatedAt, bounty)
}

func (s *PostgresStore) GetBounty(ctx context.Context, id string) (*models.Bounty, error) {
	var b models.Bounty
	version, err := s.get(ctx, tblBounties, "bounty", id, &b)
	if err != nil {
		return nil, err
	}
	b.Version = version
	return &b, nil
}

func (s *PostgresStore) ListBounties(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, error) {
	sql := fmt.Sprintf(`SELECT doc || jsonb_build_object('version', version) FROM %s
		WHERE ($1 = '' OR doc->>'status' = $1)
		ORDER BY created_at DESC`, tblBounties) + limitClause(filter.Limit)
	return listDocs[models.Bounty](ctx, s.pool, sql, string(filter.Status))
}

func (s *PostgresStore) UpdateBounty(ctx context.Context, bounty *models.Bounty, expectedVersion int64) error {
	next := bounty.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	ok, err := s.cas(ctx, tblBounties, bounty.ID, expectedVersion, next)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.GetBounty(ctx, bounty.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	bounty.Version = next.Version
	return nil
}

// ── Delegation Store ────────────────────────────────────────

func (s *PostgresStore) UpsertDelegation(ctx context.Context, d *models.Delegation) error {
	return s.upsert(ctx, tblDelegations, walletKey(d.Wallet), d)
}

func (s *PostgresStore) GetDelegation(ctx context.Context, wallet string) (*models.Delegation, error) {
	var d models.Delegation
	if _, err := s.get(ctx, tblDelegations, "delegation", walletKey(wallet), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ── Reputation Store ────────────────────────────────────────

func (s *PostgresStore) GetReputation(ctx context.Context, handle string) (*models.Reputation, error) {
	var r models.Reputation
	if _, err := s.get(ctx, tblReputation, "reputation", models.NormalizeHandle(handle), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReputation locks the row for the duration of fn.
func (s *PostgresStore) UpdateReputation(ctx context.Context, handle string, fn func(rec *models.Reputation) error) (*models.Reputation, error) {
	id := models.NormalizeHandle(handle)
	var out models.Reputation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		seed, _ := json.Marshal(models.Reputation{Handle: id, TrustTier: models.TierNewcomer})
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO NOTHING`, tblReputation),
			id, string(seed)); err != nil {
			return err
		}
		var rec models.Reputation
		if _, err := getDoc(ctx, tx, tblReputation, id, &rec, true); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.Handle = id
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET doc = $1::jsonb, version = version + 1, updated_at = NOW() WHERE id = $2`, tblReputation),
			string(data), id); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PostgresStore) ReplaceReputations(ctx context.Context, records []models.Reputation) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, tblReputation)); err != nil {
			return err
		}
		for i := range records {
			rec := records[i]
			rec.Handle = models.NormalizeHandle(rec.Handle)
			data, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)`, tblReputation),
				rec.Handle, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListReputations(ctx context.Context, limit int) ([]models.Reputation, error) {
	return listDocs[models.Reputation](ctx, s.pool,
		fmt.Sprintf(`SELECT doc FROM %s ORDER BY (doc->>'cumulative_score')::bigint DESC, id`, tblReputation)+limitClause(limit))
}
