package domain

import (
	"context"
	"encoding/json"
)

// QueueRepository persists queued mutations.
// Implemented by repository.QueueRepo.
type QueueRepository interface {
	Insert(ctx context.Context, m *QueuedMutation) error
	// ListPending returns pending mutations in insertion (FIFO) order.
	ListPending(ctx context.Context) ([]QueuedMutation, error)
	// MarkInFlight transitions a pending mutation to in_flight.
	MarkInFlight(ctx context.Context, id string) error
	// MarkCommitted transitions an in-flight mutation to committed.
	MarkCommitted(ctx context.Context, id string) error
	// MarkPending reverts an in-flight mutation to pending after a transient
	// failure, incrementing the attempt counter.
	MarkPending(ctx context.Context, id string, lastError string) error
	// MarkFailed records a terminal failure, incrementing the attempt counter.
	MarkFailed(ctx context.Context, id string, lastError string) error
	// RecoverInFlight reverts every in-flight mutation to pending so work
	// stranded by a crash or an aborted drain is redelivered.
	RecoverInFlight(ctx context.Context) (int64, error)
	// Retarget rewrites the target id of undelivered mutations after the
	// server assigns a create a different id than the client's optimistic one.
	Retarget(ctx context.Context, kind EntityKind, oldID, newID string) (int64, error)
	// FailedTargets returns the target keys of all failed mutations, used to
	// hold back later mutations against the same logical entity.
	FailedTargets(ctx context.Context) (map[string]bool, error)
	Get(ctx context.Context, id string) (*QueuedMutation, error)
	List(ctx context.Context, status MutationStatus, limit int) ([]QueuedMutation, error)
	CountByStatus(ctx context.Context) (map[MutationStatus]int64, error)
}

// CacheRepository persists cached entity records.
// Implemented by repository.CacheRepo.
type CacheRepository interface {
	// UpsertLocal writes an optimistic record (origin=local-optimistic).
	UpsertLocal(ctx context.Context, rec *CachedRecord) error
	// Promote replaces a record with the reconciled server state
	// (origin=server-confirmed). When serverID differs from localID the
	// record is re-keyed under the server-assigned id.
	Promote(ctx context.Context, localID, serverID string, kind EntityKind, payload json.RawMessage) error
	Delete(ctx context.Context, kind EntityKind, id string) error
	Get(ctx context.Context, kind EntityKind, id string) (*CachedRecord, error)
	ListByKind(ctx context.Context, kind EntityKind) ([]CachedRecord, error)
	Counts(ctx context.Context) ([]CacheCounts, error)
}

// RemoteClient delivers mutations to the remote authority and serves the
// read endpoints the client consumes.
// Implemented by remote.Client.
type RemoteClient interface {
	// Deliver sends one mutation. The returned payload is the authoritative
	// entity state for create/update, nil for delete. Transport failures are
	// *TransientError; business rejections are *RemoteRejectionError.
	Deliver(ctx context.Context, m *QueuedMutation) (json.RawMessage, error)
	// Health probes GET /health. A nil error means the remote is reachable.
	Health(ctx context.Context) error
}

// ReachabilityState is the two-state connectivity model.
type ReachabilityState int

const (
	Offline ReachabilityState = iota
	Online
)

func (s ReachabilityState) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Reachability exposes the connectivity state machine to consumers.
// Implemented by netmon.Monitor.
type Reachability interface {
	State() ReachabilityState
	// Subscribe registers for edge-triggered transition notifications.
	// The returned cancel func releases the subscription.
	Subscribe(buffer int) (<-chan ReachabilityState, func())
}

// AnalyticsBridge is the promise-style face of the worker-isolated engine.
// Implemented by engine.Bridge.
type AnalyticsBridge interface {
	Init(ctx context.Context) error
	Query(ctx context.Context, sqlText string) (*QueryResult, error)
	Register(ctx context.Context, table string, columns []string, rows [][]string) error
	Close() error
}

// QueryResult holds the rows returned by an analytical query.
type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
}
