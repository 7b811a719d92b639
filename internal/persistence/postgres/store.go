// Package postgres provides Postgres-backed persistence for schedule
// mappings, plan snapshots and progress history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/wellness/internal/domain"
	"example.com/wellness/internal/observability"
)

// Store wraps a pgx pool with the service's persistence operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load returns the user's current activity-to-event bindings. Rows that fail
// validation surface as ErrMappingCorrupted so the engine can fall back to an
// empty mapping instead of crashing.
func (s *Store) Load(ctx context.Context, userID string) (domain.ScheduleMapping, error) {
	const query = `SELECT activity_id, remote_event_id, last_synced_start, last_synced_duration_min, content_hash, idempotency_key
        FROM schedule_mappings WHERE user_id=$1`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mapping := domain.ScheduleMapping{}
	for rows.Next() {
		var activityID string
		var entry domain.MappingEntry
		if err := rows.Scan(&activityID, &entry.RemoteEventID, &entry.LastSyncedStart, &entry.LastSyncedDurMin, &entry.ContentHash, &entry.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMappingCorrupted, err)
		}
		if activityID == "" || entry.RemoteEventID == "" || entry.LastSyncedDurMin <= 0 {
			return nil, fmt.Errorf("%w: invalid row for user %s", domain.ErrMappingCorrupted, userID)
		}
		mapping[activityID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mapping, nil
}

// Put upserts one confirmed binding. Called only after the remote side
// acknowledged the corresponding create or update.
func (s *Store) Put(ctx context.Context, userID, planVersion, activityID string, entry domain.MappingEntry) error {
	const stmt = `INSERT INTO schedule_mappings (user_id, plan_version, activity_id, remote_event_id, last_synced_start, last_synced_duration_min, content_hash, idempotency_key, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (user_id, activity_id) DO UPDATE SET
            plan_version = EXCLUDED.plan_version,
            remote_event_id = EXCLUDED.remote_event_id,
            last_synced_start = EXCLUDED.last_synced_start,
            last_synced_duration_min = EXCLUDED.last_synced_duration_min,
            content_hash = EXCLUDED.content_hash,
            idempotency_key = EXCLUDED.idempotency_key,
            updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, stmt,
		userID,
		planVersion,
		activityID,
		entry.RemoteEventID,
		entry.LastSyncedStart,
		entry.LastSyncedDurMin,
		entry.ContentHash,
		entry.IdempotencyKey,
		now,
	)
	if err != nil {
		return err
	}
	observability.RecordMappingPersisted(now)
	return nil
}

// Remove drops a binding after its remote event was confirmed deleted.
func (s *Store) Remove(ctx context.Context, userID, activityID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedule_mappings WHERE user_id=$1 AND activity_id=$2`, userID, activityID)
	return err
}

// UserLocks implements the per-user exclusive scope with Postgres advisory
// locks, so a chat-initiated pass and a scheduled resync cannot interleave
// writes to the same mapping.
type UserLocks struct {
	pool *pgxpool.Pool
}

// NewUserLocks constructs a UserLocks over the pool.
func NewUserLocks(pool *pgxpool.Pool) *UserLocks {
	return &UserLocks{pool: pool}
}

// Acquire blocks until the user's lock is held and returns its release
// function. The lock lives on a dedicated connection; release returns the
// connection to the pool in every case.
func (l *UserLocks) Acquire(ctx context.Context, userID string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	key := lockKey(userID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, err
	}

	return func() {
		// Unlock on a background context: release must work even when the
		// pass context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}, nil
}

func lockKey(userID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	return int64(h.Sum64())
}

// errNoRows normalises pgx's sentinel for callers comparing with errors.Is.
func errNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
