// Package storage provides scratch and artifact storage for split sessions.
// It defines the Storage and Artifact ports and implementations backed by
// local disk and by S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrArtifactNotFound is returned when an artifact's backing object is gone.
var ErrArtifactNotFound = errors.New("storage: artifact not found")

// Artifact is an opaque handle to the encoded bytes of one chunk.
// Core logic never inspects where the bytes live.
type Artifact interface {
	// Location identifies the backing object (a file path or an s3:// URI).
	Location() string

	// Exists reports whether the backing object is still present.
	Exists(ctx context.Context) (bool, error)

	// Open returns a reader over the artifact's bytes. It returns an error
	// wrapping ErrArtifactNotFound if the object is gone. The caller must
	// close the returned reader.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Delete removes the backing object. Deleting an object that is already
	// gone is not an error.
	Delete(ctx context.Context) error
}

// Storage defines scratch space for downloads and renders, and publication of
// rendered files as artifacts.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files or work directories.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// WorkDir creates a fresh scratch directory for rendered files.
	WorkDir(ctx context.Context, name string) (dir string, err error)

	// ReleaseWorkDir removes dir if nothing was left in it by Publish.
	// A directory still holding artifacts is kept.
	ReleaseWorkDir(ctx context.Context, dir string) error

	// Publish turns a rendered local file into an artifact. The local file
	// may be moved or removed in the process.
	Publish(ctx context.Context, localPath string) (Artifact, error)
}
