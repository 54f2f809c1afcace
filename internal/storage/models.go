package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Profile keys the store reads or writes inside a profile document.
const (
	FieldProfileURL          = "profileUrl"
	FieldStatus              = "status"
	FieldConnectionTimestamp = "connectionTimestamp"

	StatusConnected = "connected"
)

// Profile is a stored profile document keyed by its LinkedIn URL. Data holds
// the record exactly as the client submitted it, plus the status fields the
// store maintains.
type Profile struct {
	URL       string
	Status    string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Connection is one entry of the append-only connection log.
type Connection struct {
	ID          string    `json:"id"`
	ProfileURL  string    `json:"profileUrl"`
	MessageUsed *string   `json:"messageUsed"`
	ConnectedAt time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"createdAt"`
}
