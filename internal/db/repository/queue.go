// Package repository implements the durable-store adapters for the mutation
// queue and the cached entity mirror. The sync queue manager is the only
// writer of mutation status and attempt counters.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/domain"
)

var _ domain.QueueRepository = (*QueueRepo)(nil)

// QueueRepo persists queued mutations in the local SQLite store.
type QueueRepo struct {
	db *sql.DB
}

// NewQueueRepo creates a QueueRepo backed by the write pool.
func NewQueueRepo(db *sql.DB) *QueueRepo {
	return &QueueRepo{db: db}
}

const queueColumns = "seq, id, kind, operation, target_id, payload, status, attempts, last_error, enqueued_at, updated_at"

// Insert makes a new mutation durable with status pending. The caller must
// have assigned the id; seq and timestamps are filled in here.
func (r *QueueRepo) Insert(ctx context.Context, m *domain.QueuedMutation) error {
	now := time.Now().UTC()
	m.Status = domain.StatusPending
	m.EnqueuedAt = now
	m.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO queued_mutations (id, kind, operation, target_id, payload, status, attempts, last_error, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?, ?)`,
		m.ID, m.Kind, m.Operation, m.TargetID, []byte(m.Payload), m.Status, m.EnqueuedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("mutation seq: %w", err)
	}
	m.Seq = seq
	return nil
}

// ListPending returns all pending mutations in insertion (FIFO) order.
func (r *QueueRepo) ListPending(ctx context.Context) ([]domain.QueuedMutation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM queued_mutations WHERE status = ? ORDER BY seq",
		domain.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanMutations(rows)
}

// List returns up to limit mutations with the given status in FIFO order.
// A limit <= 0 means no limit.
func (r *QueueRepo) List(ctx context.Context, status domain.MutationStatus, limit int) ([]domain.QueuedMutation, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+queueColumns+" FROM queued_mutations WHERE status = ? ORDER BY seq LIMIT ?",
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", status, err)
	}
	defer rows.Close() //nolint:errcheck

	return scanMutations(rows)
}

// Get fetches a single mutation by id.
func (r *QueueRepo) Get(ctx context.Context, id string) (*domain.QueuedMutation, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM queued_mutations WHERE id = ?", id)

	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("mutation %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation: %w", err)
	}
	return m, nil
}

// MarkInFlight transitions a pending mutation to in_flight.
func (r *QueueRepo) MarkInFlight(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusPending, domain.StatusInFlight, "", false)
}

// MarkCommitted transitions an in-flight mutation to committed.
func (r *QueueRepo) MarkCommitted(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusInFlight, domain.StatusCommitted, "", false)
}

// MarkPending reverts an in-flight mutation to pending after a transient
// delivery failure and increments the attempt counter.
func (r *QueueRepo) MarkPending(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, id, domain.StatusInFlight, domain.StatusPending, lastError, true)
}

// MarkFailed records a terminal failure and increments the attempt counter.
func (r *QueueRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, id, domain.StatusInFlight, domain.StatusFailed, lastError, true)
}

// transition performs a guarded status change: the row must currently hold
// the expected status, otherwise the transition is reported as a conflict.
func (r *QueueRepo) transition(ctx context.Context, id string, from, to domain.MutationStatus, lastError string, bumpAttempts bool) error {
	attemptDelta := 0
	if bumpAttempts {
		attemptDelta = 1
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_mutations
		SET status = ?, attempts = attempts + ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, attemptDelta, lastError, time.Now().UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("mark %s: %w", to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	if n == 0 {
		return domain.ErrConflict("mutation %q is not %s", id, from)
	}
	return nil
}

// RecoverInFlight reverts every in-flight mutation to pending. A row can be
// stranded in flight by a crash between dispatch and outcome, or by a drain
// aborted mid-delivery; the idempotency key makes redelivery safe.
func (r *QueueRepo) RecoverInFlight(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_mutations
		SET status = ?, updated_at = ?
		WHERE status = ?`,
		domain.StatusPending, time.Now().UTC(), domain.StatusInFlight,
	)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover in-flight: %w", err)
	}
	return n, nil
}

// Retarget rewrites the target id of every undelivered mutation for a target.
// Used when the server assigns a created entity a different id than the
// client's optimistic one, so queued follow-ups address the id the authority
// actually issued. Committed rows keep their historical target.
func (r *QueueRepo) Retarget(ctx context.Context, kind domain.EntityKind, oldID, newID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queued_mutations
		SET target_id = ?, updated_at = ?
		WHERE kind = ? AND target_id = ? AND status IN (?, ?, ?)`,
		newID, time.Now().UTC(), kind, oldID,
		domain.StatusPending, domain.StatusInFlight, domain.StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retarget %s/%s: %w", kind, oldID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retarget %s/%s: %w", kind, oldID, err)
	}
	return n, nil
}

// FailedTargets returns the target keys of all failed mutations. Later
// mutations against the same logical target are held back behind these.
func (r *QueueRepo) FailedTargets(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT kind, target_id FROM queued_mutations WHERE status = ?",
		domain.StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed targets: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	targets := make(map[string]bool)
	for rows.Next() {
		var kind, targetID string
		if err := rows.Scan(&kind, &targetID); err != nil {
			return nil, fmt.Errorf("scan failed target: %w", err)
		}
		targets[kind+"/"+targetID] = true
	}
	return targets, rows.Err()
}

// CountByStatus returns the number of mutations per lifecycle status.
func (r *QueueRepo) CountByStatus(ctx context.Context) (map[domain.MutationStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT status, count(*) FROM queued_mutations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[domain.MutationStatus]int64)
	for rows.Next() {
		var status domain.MutationStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMutation(row rowScanner) (*domain.QueuedMutation, error) {
	var m domain.QueuedMutation
	var payload []byte
	err := row.Scan(
		&m.Seq, &m.ID, &m.Kind, &m.Operation, &m.TargetID, &payload,
		&m.Status, &m.Attempts, &m.LastError, &m.EnqueuedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	return &m, nil
}

func scanMutations(rows *sql.Rows) ([]domain.QueuedMutation, error) {
	var out []domain.QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
