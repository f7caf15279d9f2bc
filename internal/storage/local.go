package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Compile-time checks.
var (
	_ Storage  = (*LocalStorage)(nil)
	_ Artifact = (*LocalArtifact)(nil)
)

// LocalStorage implements Storage using local disk. Published artifacts stay
// where they were rendered, inside the storage's temp directory.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// The tempDir parameter specifies where temporary files are stored.
// If tempDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "audiosplit")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// CleanupTemp removes the specified temporary files or work directories.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.RemoveAll(p); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// WorkDir creates a new directory named after name, with a unique suffix,
// inside the temp directory.
func (s *LocalStorage) WorkDir(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	dir, err := os.MkdirTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	return dir, nil
}

// ReleaseWorkDir removes dir when it is empty and inside the temp directory.
func (s *LocalStorage) ReleaseWorkDir(_ context.Context, dir string) error {
	if !isWithin(s.tempDir, dir) {
		return fmt.Errorf("release %s: outside temp directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read work directory: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove work directory: %w", err)
	}
	return nil
}

// Publish returns a handle to the rendered file in place.
func (s *LocalStorage) Publish(ctx context.Context, localPath string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat rendered file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("publish %s: is a directory", localPath)
	}

	return &LocalArtifact{path: localPath, root: s.tempDir}, nil
}

// LocalArtifact is an artifact backed by a file on local disk.
type LocalArtifact struct {
	path string
	// root bounds the empty-directory pruning done by Delete.
	root string
}

// NewLocalArtifact returns a handle to the file at path.
func NewLocalArtifact(path string) *LocalArtifact {
	return &LocalArtifact{path: path}
}

// Location returns the file path.
func (a *LocalArtifact) Location() string {
	return a.path
}

// Exists reports whether the file is present.
func (a *LocalArtifact) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(a.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact: %w", err)
}

// Open opens the file for reading. The returned reader is an *os.File and
// therefore also an io.ReadSeeker.
func (a *LocalArtifact) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(a.path) // #nosec G304 - path is produced by this package
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, a.path)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Delete removes the file, then the enclosing directory if it is now empty
// and lies inside the storage root.
func (a *LocalArtifact) Delete(_ context.Context) error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", a.path, err)
	}

	dir := filepath.Dir(a.path)
	if a.root != "" && dir != filepath.Clean(a.root) && isWithin(a.root, dir) {
		// Fails while siblings remain; that is expected.
		_ = os.Remove(dir)
	}
	return nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
