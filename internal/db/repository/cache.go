package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/domain"
)

var _ domain.CacheRepository = (*CacheRepo)(nil)

// CacheRepo persists the local mirror of remote domain entities.
type CacheRepo struct {
	db *sql.DB
}

// NewCacheRepo creates a CacheRepo backed by the write pool.
func NewCacheRepo(db *sql.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// UpsertLocal writes an optimistic record. An existing record under the same
// (kind, id) is overwritten and demoted to local-optimistic until the
// corresponding mutation commits.
func (r *CacheRepo) UpsertLocal(ctx context.Context, rec *domain.CachedRecord) error {
	rec.Origin = domain.OriginLocal
	rec.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cached_records (kind, id, origin, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			origin = excluded.origin,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		rec.Kind, rec.ID, rec.Origin, []byte(rec.Payload), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert local record: %w", err)
	}
	return nil
}

// Promote replaces a record with the reconciled server state and marks it
// server-confirmed. When the server assigned a different id than the client's
// optimistic one, the record is re-keyed in the same transaction.
func (r *CacheRepo) Promote(ctx context.Context, localID, serverID string, kind domain.EntityKind, payload json.RawMessage) error {
	if serverID == "" {
		serverID = localID
	}
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("promote record: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if serverID != localID {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM cached_records WHERE kind = ? AND id = ?", kind, localID); err != nil {
			return fmt.Errorf("drop optimistic record: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cached_records (kind, id, origin, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			origin = excluded.origin,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		kind, serverID, domain.OriginServer, []byte(payload), now,
	); err != nil {
		return fmt.Errorf("promote record: %w", err)
	}

	return tx.Commit()
}

// Delete removes a record from the mirror.
func (r *CacheRepo) Delete(ctx context.Context, kind domain.EntityKind, id string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM cached_records WHERE kind = ? AND id = ?", kind, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Get fetches a single record.
func (r *CacheRepo) Get(ctx context.Context, kind domain.EntityKind, id string) (*domain.CachedRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT kind, id, origin, payload, updated_at FROM cached_records WHERE kind = ? AND id = ?",
		kind, id,
	)

	var rec domain.CachedRecord
	var payload []byte
	err := row.Scan(&rec.Kind, &rec.ID, &rec.Origin, &payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("%s %q not found in cache", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	rec.Payload = payload
	return &rec, nil
}

// ListByKind returns all records of one kind ordered by id.
func (r *CacheRepo) ListByKind(ctx context.Context, kind domain.EntityKind) ([]domain.CachedRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT kind, id, origin, payload, updated_at FROM cached_records WHERE kind = ? ORDER BY id",
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.CachedRecord
	for rows.Next() {
		var rec domain.CachedRecord
		var payload []byte
		if err := rows.Scan(&rec.Kind, &rec.ID, &rec.Origin, &payload, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counts returns per-kind record counts split by origin, in the stable kind
// order, including kinds with no records.
func (r *CacheRepo) Counts(ctx context.Context) ([]domain.CacheCounts, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT kind, origin, count(*) FROM cached_records GROUP BY kind, origin")
	if err != nil {
		return nil, fmt.Errorf("cache counts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	byKind := make(map[domain.EntityKind]*domain.CacheCounts)
	for _, k := range domain.AllKinds() {
		byKind[k] = &domain.CacheCounts{Kind: k}
	}
	for rows.Next() {
		var kind domain.EntityKind
		var origin domain.Origin
		var n int64
		if err := rows.Scan(&kind, &origin, &n); err != nil {
			return nil, fmt.Errorf("scan cache count: %w", err)
		}
		c, ok := byKind[kind]
		if !ok {
			c = &domain.CacheCounts{Kind: kind}
			byKind[kind] = c
		}
		if origin == domain.OriginServer {
			c.Server = n
		} else {
			c.Local = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.CacheCounts, 0, len(byKind))
	for _, k := range domain.AllKinds() {
		out = append(out, *byKind[k])
	}
	return out, nil
}
