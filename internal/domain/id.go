package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for application-owned entities. UUIDv7 is
// time-ordered, so ids produced by the same process sort in creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
