// Package syncq implements the offline mutation queue: optimistic local
// application, durable FIFO queueing, and ordered, idempotent reconciliation
// with the remote authority once reachability allows.
package syncq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"fieldsync/internal/domain"
)

// FlushReport summarizes one drain of the pending queue. The queue is stable
// after a drain: everything still pending either failed transiently (waiting
// for connectivity) or is held behind a failed mutation for the same target.
type FlushReport struct {
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`  // held behind a terminally failed target
	Deferred  int `json:"deferred"` // transient failure, retried next flush
}

// Drained reports whether the flush left nothing retryable behind.
func (r FlushReport) Drained() bool { return r.Blocked == 0 && r.Deferred == 0 }

// Manager orchestrates the mutation queue. It is the single writer of
// mutation status and attempt counters and of the cached entity mirror.
type Manager struct {
	queue  domain.QueueRepository
	cache  domain.CacheRepository
	remote domain.RemoteClient
	reach  domain.Reachability
	logger *slog.Logger

	// signal feeds delivery outcomes back into the reachability machine.
	// Optional; nil when the caller wires reachability elsewhere.
	signal func(domain.ReachabilityState)

	// limiter paces deliveries so a large backlog doesn't hammer the remote
	// the moment connectivity returns.
	limiter *rate.Limiter

	flushGroup singleflight.Group
}

// Options tunes the manager. Zero values select defaults.
type Options struct {
	// DeliveriesPerSecond paces queue drains (default 25/s, burst 10).
	DeliveriesPerSecond float64
	// Signal receives Online after a successful delivery and Offline after a
	// transport-level failure.
	Signal func(domain.ReachabilityState)
}

// NewManager creates a Manager.
func NewManager(queue domain.QueueRepository, cache domain.CacheRepository, remote domain.RemoteClient, reach domain.Reachability, logger *slog.Logger, opts Options) *Manager {
	rps := opts.DeliveriesPerSecond
	if rps <= 0 {
		rps = 25
	}
	return &Manager{
		queue:   queue,
		cache:   cache,
		remote:  remote,
		reach:   reach,
		logger:  logger,
		signal:  opts.Signal,
		limiter: rate.NewLimiter(rate.Limit(rps), 10),
	}
}

// Enqueue makes the mutation durable and applies it optimistically to the
// cached mirror. It never touches the network and returns the locally visible
// record (nil for deletes).
func (m *Manager) Enqueue(ctx context.Context, intent domain.MutationIntent) (*domain.CachedRecord, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	mutation := &domain.QueuedMutation{
		ID:        domain.NewID(),
		Kind:      intent.Kind,
		Operation: intent.Operation,
		TargetID:  intent.TargetID,
		Payload:   intent.Payload,
	}
	if err := m.queue.Insert(ctx, mutation); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	var rec *domain.CachedRecord
	switch intent.Operation {
	case domain.OpCreate, domain.OpUpdate:
		rec = &domain.CachedRecord{
			ID:      intent.TargetID,
			Kind:    intent.Kind,
			Payload: intent.Payload,
		}
		if err := m.cache.UpsertLocal(ctx, rec); err != nil {
			return nil, fmt.Errorf("optimistic apply: %w", err)
		}
	case domain.OpDelete:
		if err := m.cache.Delete(ctx, intent.Kind, intent.TargetID); err != nil {
			return nil, fmt.Errorf("optimistic delete: %w", err)
		}
	}

	m.logger.Debug("mutation enqueued",
		"id", mutation.ID, "kind", mutation.Kind, "op", mutation.Operation, "target", mutation.TargetID)
	return rec, nil
}

// Flush drains the pending queue in FIFO order. Concurrent calls coalesce:
// a second flush started while one is in progress waits for that drain's
// report instead of double-submitting.
func (m *Manager) Flush(ctx context.Context) (FlushReport, error) {
	v, err, _ := m.flushGroup.Do("flush", func() (interface{}, error) {
		return m.drain(ctx)
	})
	if err != nil {
		return FlushReport{}, err
	}
	return v.(FlushReport), nil
}

// ForceFlush is the synchronous diagnostic hook: it flushes and returns only
// once the queue has reached a stable state — fully drained, or blocked on
// failed/unreachable targets that a repeat drain cannot make progress on.
func (m *Manager) ForceFlush(ctx context.Context) (FlushReport, error) {
	report, err := m.Flush(ctx)
	if err != nil {
		return report, err
	}
	m.logger.Info("force flush complete",
		"committed", report.Committed, "failed", report.Failed,
		"blocked", report.Blocked, "deferred", report.Deferred)
	return report, nil
}

// Run subscribes to reachability edges and flushes on every offline→online
// transition until ctx is done. Offline edges need no action here: in-flight
// deliveries fail naturally and revert to pending.
func (m *Manager) Run(ctx context.Context) {
	events, cancel := m.reach.Subscribe(4)
	defer cancel()

	// An online transition between wiring and this subscription would be
	// lost as an edge; catch up on the current state before waiting.
	if m.reach.State() == domain.Online {
		if _, err := m.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("initial flush failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-events:
			if !ok {
				return
			}
			if state != domain.Online {
				continue
			}
			if _, err := m.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("flush on online edge failed", "error", err)
			}
		}
	}
}

// drain performs one FIFO pass over the pending queue.
func (m *Manager) drain(ctx context.Context) (FlushReport, error) {
	var report FlushReport

	// Anything stranded in flight — crash between dispatch and outcome, or a
	// previous drain aborted mid-delivery — goes back to pending first. The
	// idempotency key makes redelivery safe.
	if n, err := m.queue.RecoverInFlight(ctx); err != nil {
		return report, fmt.Errorf("flush: %w", err)
	} else if n > 0 {
		m.logger.Warn("recovered stranded in-flight mutations", "count", n)
	}

	// Targets with a terminally failed mutation: later mutations for the
	// same logical entity are held back, never delivered around the failure.
	held, err := m.queue.FailedTargets(ctx)
	if err != nil {
		return report, fmt.Errorf("flush: %w", err)
	}
	// Targets that failed transiently during this drain; same-target
	// followers stay pending to preserve per-target FIFO.
	deferred := make(map[string]bool)
	// Original target key → server-assigned id, for creates the authority
	// re-keyed during this drain. Followers already loaded into this pass
	// still carry the optimistic id and must be redirected.
	rekeyed := make(map[string]string)

	pending, err := m.queue.ListPending(ctx)
	if err != nil {
		return report, fmt.Errorf("flush: %w", err)
	}

	for i := range pending {
		mut := &pending[i]
		key := mut.TargetKey()

		switch {
		case held[key]:
			report.Blocked++
			continue
		case deferred[key]:
			report.Deferred++
			continue
		}

		if serverID, ok := rekeyed[key]; ok {
			mut.TargetID = serverID
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("flush: %w", err)
		}

		if err := m.queue.MarkInFlight(ctx, mut.ID); err != nil {
			// Another writer raced us; skip rather than double-submit.
			m.logger.Warn("skipping contested mutation", "id", mut.ID, "error", err)
			continue
		}

		serverPayload, err := m.remote.Deliver(ctx, mut)
		switch {
		case err == nil:
			canonicalID, commitErr := m.commit(ctx, mut, serverPayload)
			if commitErr != nil {
				return report, commitErr
			}
			if canonicalID != "" && canonicalID != mut.TargetID {
				rekeyed[key] = canonicalID
			}
			report.Committed++
			m.setReachability(domain.Online)

		case isTransient(err):
			if markErr := m.queue.MarkPending(ctx, mut.ID, err.Error()); markErr != nil {
				return report, fmt.Errorf("revert to pending: %w", markErr)
			}
			deferred[key] = true
			report.Deferred++
			m.setReachability(domain.Offline)
			m.logger.Debug("delivery deferred", "id", mut.ID, "error", err)

		default:
			// Business rejection: terminal for this mutation and everything
			// queued behind its target.
			if markErr := m.queue.MarkFailed(ctx, mut.ID, err.Error()); markErr != nil {
				return report, fmt.Errorf("mark failed: %w", markErr)
			}
			held[key] = true
			report.Failed++
			m.logger.Warn("delivery rejected", "id", mut.ID, "target", key, "error", err)
		}
	}

	return report, nil
}

// commit reconciles the server response into the cached mirror and marks the
// mutation committed. It returns the record's canonical id: the
// server-assigned id when the authority re-keyed a create, otherwise the
// mutation's own target id.
func (m *Manager) commit(ctx context.Context, mut *domain.QueuedMutation, serverPayload []byte) (string, error) {
	if mut.Operation == domain.OpDelete {
		// Optimistic apply already removed the record; make sure it stays gone.
		if err := m.cache.Delete(ctx, mut.Kind, mut.TargetID); err != nil {
			return "", fmt.Errorf("confirm delete: %w", err)
		}
		return mut.TargetID, m.markCommitted(ctx, mut)
	}

	localPayload := mut.Payload
	if rec, err := m.cache.Get(ctx, mut.Kind, mut.TargetID); err == nil {
		localPayload = rec.Payload
	}

	merged, err := domain.Reconcile(mut.Kind, localPayload, serverPayload)
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", mut.TargetKey(), err)
	}

	serverID := domain.ServerAssignedID(serverPayload)
	if err := m.cache.Promote(ctx, mut.TargetID, serverID, mut.Kind, merged); err != nil {
		return "", fmt.Errorf("promote %s: %w", mut.TargetKey(), err)
	}

	if err := m.markCommitted(ctx, mut); err != nil {
		return "", err
	}

	canonical := mut.TargetID
	if serverID != "" && serverID != mut.TargetID {
		// Queued follow-ups still address the optimistic id; redirect them to
		// the id the authority actually issued. The committed row keeps the
		// optimistic target as history.
		canonical = serverID
		if n, err := m.queue.Retarget(ctx, mut.Kind, mut.TargetID, serverID); err != nil {
			return "", fmt.Errorf("retarget %s: %w", mut.TargetKey(), err)
		} else if n > 0 {
			m.logger.Debug("retargeted queued mutations",
				"kind", mut.Kind, "from", mut.TargetID, "to", serverID, "count", n)
		}
	}
	return canonical, nil
}

func (m *Manager) markCommitted(ctx context.Context, mut *domain.QueuedMutation) error {
	if err := m.queue.MarkCommitted(ctx, mut.ID); err != nil {
		return fmt.Errorf("mark committed: %w", err)
	}
	m.logger.Debug("mutation committed", "id", mut.ID, "target", mut.TargetKey(), "attempts", mut.Attempts)
	return nil
}

func (m *Manager) setReachability(s domain.ReachabilityState) {
	if m.signal != nil {
		m.signal(s)
	}
}

func isTransient(err error) bool {
	var transient *domain.TransientError
	return errors.As(err, &transient)
}
