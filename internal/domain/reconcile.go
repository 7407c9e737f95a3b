package domain

import (
	"encoding/json"
	"fmt"
)

// clientOnlyFields lists, per entity kind, the payload fields that are owned
// by the client and survive reconciliation even though the server response
// does not echo them. Everything else is overridden by the server.
var clientOnlyFields = map[EntityKind][]string{
	KindAudit:    {"pinned", "draftNotes"},
	KindNCR:      {"pinned", "draftNotes"},
	KindRisk:     {"pinned", "draftNotes"},
	KindAction:   {"pinned", "draftNotes", "reminderAt"},
	KindDocument: {"pinned", "localPath"},
}

// Reconcile merges the authoritative server payload with the local optimistic
// payload for one entity kind. The server wins on every field it returns;
// client-only fields present locally are carried over.
func Reconcile(kind EntityKind, local, server json.RawMessage) (json.RawMessage, error) {
	if len(server) == 0 {
		return local, nil
	}

	var serverMap map[string]json.RawMessage
	if err := json.Unmarshal(server, &serverMap); err != nil {
		return nil, fmt.Errorf("decode server payload: %w", err)
	}

	if len(local) > 0 {
		var localMap map[string]json.RawMessage
		if err := json.Unmarshal(local, &localMap); err != nil {
			return nil, fmt.Errorf("decode local payload: %w", err)
		}
		for _, field := range clientOnlyFields[kind] {
			if v, ok := localMap[field]; ok {
				if _, taken := serverMap[field]; !taken {
					serverMap[field] = v
				}
			}
		}
	}

	merged, err := json.Marshal(serverMap)
	if err != nil {
		return nil, fmt.Errorf("encode reconciled payload: %w", err)
	}
	return merged, nil
}

// ServerAssignedID extracts the server-assigned entity id from a delivery
// response payload. Returns empty when the payload carries no id.
func ServerAssignedID(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var probe struct {
		ID      string `json:"id"`
		AuditID string `json:"auditId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	if probe.ID != "" {
		return probe.ID
	}
	return probe.AuditID
}
