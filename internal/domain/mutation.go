package domain

import (
	"encoding/json"
	"time"
)

// EntityKind enumerates the remote entity collections the client mirrors.
type EntityKind string

const (
	KindAudit    EntityKind = "audit"
	KindNCR      EntityKind = "ncr"
	KindRisk     EntityKind = "risk"
	KindAction   EntityKind = "action"
	KindDocument EntityKind = "document"
)

// AllKinds lists every entity kind in a stable order.
func AllKinds() []EntityKind {
	return []EntityKind{KindAudit, KindNCR, KindRisk, KindAction, KindDocument}
}

// Valid reports whether the kind is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindAudit, KindNCR, KindRisk, KindAction, KindDocument:
		return true
	}
	return false
}

// Operation enumerates the mutation verbs accepted by the queue.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of the known verbs.
func (o Operation) Valid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// MutationStatus is the delivery lifecycle state of a queued mutation.
type MutationStatus string

const (
	StatusPending   MutationStatus = "pending"
	StatusInFlight  MutationStatus = "in_flight"
	StatusCommitted MutationStatus = "committed"
	StatusFailed    MutationStatus = "failed"
)

// MutationIntent is the caller-facing description of a local write. The queue
// assigns the id, timestamps, and status on enqueue.
type MutationIntent struct {
	Kind      EntityKind
	Operation Operation
	TargetID  string // client-generated for creates, server or client id otherwise
	Payload   json.RawMessage
}

// Validate checks that the intent is well formed before it is made durable.
func (m *MutationIntent) Validate() error {
	if !m.Kind.Valid() {
		return ErrValidation("unknown entity kind %q", m.Kind)
	}
	if !m.Operation.Valid() {
		return ErrValidation("unknown operation %q", m.Operation)
	}
	if m.TargetID == "" {
		return ErrValidation("target id is required")
	}
	if m.Operation != OpDelete && len(m.Payload) == 0 {
		return ErrValidation("payload is required for %s", m.Operation)
	}
	return nil
}

// QueuedMutation is a durable mutation awaiting delivery to the remote
// authority. The id doubles as the idempotency key sent with every delivery
// attempt, so re-delivery after an ambiguous failure is safe.
type QueuedMutation struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"` // insertion sequence, drives FIFO iteration
	Kind       EntityKind      `json:"kind"`
	Operation  Operation       `json:"operation"`
	TargetID   string          `json:"targetId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     MutationStatus  `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// TargetKey returns the logical-target key used for ordering and holdback:
// mutations sharing a key are never reordered or delivered around a failure.
func (m *QueuedMutation) TargetKey() string {
	return string(m.Kind) + "/" + m.TargetID
}
