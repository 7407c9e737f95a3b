// Package service composes the storage, queue, network and engine layers
// into the operations the API and CLI expose.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/remote"
	"fieldsync/internal/syncq"
)

// SyncStatus is a point-in-time view of the client's sync machinery.
type SyncStatus struct {
	Reachability  string                          `json:"reachability"`
	Queue         map[domain.MutationStatus]int64 `json:"queue"`
	FailedTargets []string                        `json:"failedTargets,omitempty"`
	Cache         []domain.CacheCounts            `json:"cache"`
	TokenExpiring bool                            `json:"tokenExpiring"`
}

// SyncService fronts the offline queue: enqueueing mutations, forcing
// flushes, session management and status reporting.
type SyncService struct {
	queue  domain.QueueRepository
	cache  domain.CacheRepository
	mgr    *syncq.Manager
	reach  domain.Reachability
	remote *remote.Client
	logger *slog.Logger

	// tokenWindow is how close to expiry a token may get before Status
	// reports it as expiring.
	tokenWindow time.Duration
}

func NewSyncService(
	queue domain.QueueRepository,
	cache domain.CacheRepository,
	mgr *syncq.Manager,
	reach domain.Reachability,
	remoteClient *remote.Client,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		queue:       queue,
		cache:       cache,
		mgr:         mgr,
		reach:       reach,
		remote:      remoteClient,
		logger:      logger,
		tokenWindow: 5 * time.Minute,
	}
}

// Enqueue records a mutation and applies it optimistically to the cache.
func (s *SyncService) Enqueue(ctx context.Context, intent domain.MutationIntent) (*domain.CachedRecord, error) {
	return s.mgr.Enqueue(ctx, intent)
}

// Flush drains the pending queue now, regardless of the schedule.
func (s *SyncService) Flush(ctx context.Context) (syncq.FlushReport, error) {
	return s.mgr.ForceFlush(ctx)
}

// Status reports queue depth per status, cache composition, reachability
// and whether the session token is about to expire.
func (s *SyncService) Status(ctx context.Context) (*SyncStatus, error) {
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := s.queue.FailedTargets(ctx)
	if err != nil {
		return nil, err
	}
	cacheCounts, err := s.cache.Counts(ctx)
	if err != nil {
		return nil, err
	}

	failed := make([]string, 0, len(targets))
	for key := range targets {
		failed = append(failed, key)
	}
	sort.Strings(failed)

	expiring := false
	if token := s.remote.Token(); token != "" {
		expiring = remote.TokenExpiresWithin(token, s.tokenWindow)
	}

	return &SyncStatus{
		Reachability:  s.reach.State().String(),
		Queue:         counts,
		FailedTargets: failed,
		Cache:         cacheCounts,
		TokenExpiring: expiring,
	}, nil
}

// Login authenticates against the remote and installs the session token on
// the client. The token is returned so callers can persist it.
func (s *SyncService) Login(ctx context.Context, email, password string) (string, error) {
	token, err := s.remote.Login(ctx, email, password)
	if err != nil {
		return "", err
	}
	s.logger.Info("session established", "email", email)
	return token, nil
}

// Pull refreshes the local cache from the server's audit collection. Records
// land as server-confirmed under their server ids; local-optimistic records
// for targets the server has not seen yet are untouched.
func (s *SyncService) Pull(ctx context.Context) (int, error) {
	audits, err := s.remote.ListAudits(ctx)
	if err != nil {
		return 0, err
	}

	pulled := 0
	for _, payload := range audits {
		id := domain.ServerAssignedID(payload)
		if id == "" {
			s.logger.Warn("skipping server audit without id")
			continue
		}
		if err := s.cache.Promote(ctx, id, id, domain.KindAudit, payload); err != nil {
			return pulled, fmt.Errorf("pull audit %s: %w", id, err)
		}
		pulled++
	}

	s.logger.Info("pulled server audits", "count", pulled)
	return pulled, nil
}

// OneClickAudit asks the server to create a templated audit and caches the
// result. Online-only by nature; offline callers get a transient error and
// should enqueue a create mutation instead.
func (s *SyncService) OneClickAudit(ctx context.Context, auditType, department string) (*domain.CachedRecord, error) {
	if auditType == "" {
		return nil, domain.ErrValidation("audit type is required")
	}

	payload, err := s.remote.OneClickAudit(ctx, auditType, department)
	if err != nil {
		return nil, err
	}

	id := domain.ServerAssignedID(payload)
	if id == "" {
		return nil, domain.ErrValidation("one-click response carried no audit id")
	}
	if err := s.cache.Promote(ctx, id, id, domain.KindAudit, payload); err != nil {
		return nil, fmt.Errorf("cache one-click audit: %w", err)
	}
	return s.cache.Get(ctx, domain.KindAudit, id)
}

// Mutations lists queued mutations by status, newest last.
func (s *SyncService) Mutations(ctx context.Context, status domain.MutationStatus, limit int) ([]domain.QueuedMutation, error) {
	return s.queue.List(ctx, status, limit)
}

// Record returns one cached entity record.
func (s *SyncService) Record(ctx context.Context, kind domain.EntityKind, id string) (*domain.CachedRecord, error) {
	if !kind.Valid() {
		return nil, domain.ErrValidation("unknown entity kind %q", kind)
	}
	return s.cache.Get(ctx, kind, id)
}
