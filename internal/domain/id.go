package domain

import (
	"github.com/google/uuid"
)

// NewRequestID generates a time-ordered UUIDv7 correlation ID.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}
