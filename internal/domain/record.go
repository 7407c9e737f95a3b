package domain

import (
	"encoding/json"
	"time"
)

// Origin distinguishes unconfirmed optimistic writes from authoritative state.
type Origin string

const (
	OriginLocal  Origin = "local-optimistic"
	OriginServer Origin = "server-confirmed"
)

// CachedRecord is the local mirror of a remote domain entity. Records are
// created optimistically on mutation intent and promoted to server-confirmed
// when the corresponding queued mutation commits.
type CachedRecord struct {
	ID        string          `json:"id"`
	Kind      EntityKind      `json:"kind"`
	Origin    Origin          `json:"origin"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CacheCounts summarizes the cache contents for one entity kind.
type CacheCounts struct {
	Kind   EntityKind `json:"kind"`
	Local  int64      `json:"local"`
	Server int64      `json:"server"`
}

// Total returns the combined record count for the kind.
func (c CacheCounts) Total() int64 { return c.Local + c.Server }
