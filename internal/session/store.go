package session

import (
	"context"
	"errors"
	"time"
)

// Static errors for session lookups.
var (
	// ErrSessionNotFound is returned when no live session has the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidChunkNumber is returned when a chunk number is outside [1, len(artifacts)].
	ErrInvalidChunkNumber = errors.New("invalid chunk number")
	// ErrNoArtifacts is returned when a session would be created without artifacts.
	ErrNoArtifacts = errors.New("session requires at least one artifact")
	// ErrArtifactOrder is returned when artifacts are not indexed 1..n in order.
	ErrArtifactOrder = errors.New("artifacts must be indexed 1..n in order")
	// ErrIDExhausted is returned when no unused session ID could be generated.
	ErrIDExhausted = errors.New("could not generate a unique session ID")
)

// Store is the registry of live sessions. All operations are safe for
// concurrent use. Sessions are immutable once created.
type Store interface {
	// Create registers a new session owning artifacts and returns it.
	// The session ID is freshly generated and unique among live sessions.
	Create(ctx context.Context, artifacts []ChunkArtifact) (*Session, error)

	// Get returns the session with the given ID or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// GetArtifact returns the artifact for a 1-based chunk number.
	// It returns ErrSessionNotFound or ErrInvalidChunkNumber.
	GetArtifact(ctx context.Context, id string, chunkNumber int) (ChunkArtifact, error)

	// Remove deletes one session from the registry and returns it, leaving
	// its artifacts for the caller to delete.
	Remove(ctx context.Context, id string) (*Session, error)

	// RemoveExpired atomically removes every session for which
	// now - CreatedAt > retention and returns them, so the caller can
	// delete backing artifacts outside the lock.
	RemoveExpired(ctx context.Context, now time.Time, retention time.Duration) ([]*Session, error)

	// RemoveAll empties the registry and returns every removed session.
	RemoveAll(ctx context.Context) ([]*Session, error)

	// Len returns the number of live sessions.
	Len() int
}
