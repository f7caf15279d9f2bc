// Package session provides the Session aggregate, the record of one completed
// split, and the Store that maps session IDs to their chunk artifacts.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/audiosplit-api/internal/chunk"
	"github.com/maauso/audiosplit-api/internal/storage"
)

// ChunkArtifact is the encoded output of one chunk window.
type ChunkArtifact struct {
	// Window is the time range the artifact was rendered from. Window.Index
	// is the 1-based chunk number.
	Window chunk.Window
	// Handle points at the encoded bytes.
	Handle storage.Artifact
}

// Index returns the 1-based chunk number.
func (a ChunkArtifact) Index() int {
	return a.Window.Index
}

// Session is the immutable result of one split operation. Artifacts are
// index-aligned: Artifacts[i] holds chunk number i+1.
type Session struct {
	// ID is unique among live sessions.
	ID string
	// CreatedAt is when the session was registered.
	CreatedAt time.Time
	// Artifacts holds one entry per planned window, in order.
	Artifacts []ChunkArtifact
}

// Len returns the number of chunks in the session.
func (s *Session) Len() int {
	return len(s.Artifacts)
}

// Artifact returns the artifact for a 1-based chunk number.
func (s *Session) Artifact(chunkNumber int) (ChunkArtifact, bool) {
	if chunkNumber < 1 || chunkNumber > len(s.Artifacts) {
		return ChunkArtifact{}, false
	}
	return s.Artifacts[chunkNumber-1], true
}

// ExpiresAt returns the moment after which the session is eligible for
// eviction under the given retention window.
func (s *Session) ExpiresAt(retention time.Duration) time.Time {
	return s.CreatedAt.Add(retention)
}

// Expired reports whether now - CreatedAt exceeds retention.
func (s *Session) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(s.CreatedAt) > retention
}

// Clone returns a copy whose artifact slice is independent of s.
func (s *Session) Clone() *Session {
	artifacts := make([]ChunkArtifact, len(s.Artifacts))
	copy(artifacts, s.Artifacts)
	return &Session{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Artifacts: artifacts,
	}
}

// DeleteArtifacts deletes every artifact of the session, continuing past
// failures, and returns the failures joined. onDelete, if not nil, is called
// once per artifact with the result of its deletion.
func (s *Session) DeleteArtifacts(ctx context.Context, onDelete func(ChunkArtifact, error)) error {
	var errs []error
	for _, a := range s.Artifacts {
		var err error
		if a.Handle != nil {
			err = a.Handle.Delete(ctx)
		}
		if onDelete != nil {
			onDelete(a, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("chunk %d (%s): %w", a.Index(), a.Handle.Location(), err))
		}
	}
	return errors.Join(errs...)
}
