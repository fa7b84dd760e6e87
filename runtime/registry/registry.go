// Package registry tracks the relay sessions that are currently live.
//
// The registry is the only state relay sessions share. Records are small and
// short-lived: a session is registered when its client connects and
// deregistered when it ends.
package registry

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/AltairaLabs/LiveInspect/pkg/errors"
)

// State is the server-side phase of a relay session.
type State string

// Relay session phases.
const (
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosing    State = "closing"
)

// Common errors.
var (
	ErrNotFound  = errors.New("session not found")
	ErrInvalidID = errors.New("invalid session ID")
)

// Record describes one live relay session.
type Record struct {
	ID            string         `json:"id"`
	State         State          `json:"state"`
	RemoteAddr    string         `json:"remote_addr,omitempty"`
	LastErrorCode pkgerrors.Code `json:"last_error_code,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Store stores live session records.
type Store interface {
	// Register adds a record. An existing record with the same ID is replaced.
	Register(ctx context.Context, rec *Record) error

	// Update sets the state and last error code of a registered session.
	// Returns ErrNotFound if the session is not registered.
	Update(ctx context.Context, id string, state State, code pkgerrors.Code) error

	// Deregister removes a record. Removing an unknown ID is not an error.
	Deregister(ctx context.Context, id string) error

	// Get returns a copy of a record, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns every record ordered by creation time.
	List(ctx context.Context) ([]*Record, error)

	// Count returns the number of registered sessions.
	Count(ctx context.Context) (int, error)
}

var now = time.Now
