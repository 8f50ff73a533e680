package clawforge

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for agent, run, and event identifiers.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUTC returns the current time truncated to millisecond precision, UTC.
// Event timestamps use this so stored and in-memory timestamps compare equal
// after a JSON round-trip.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
