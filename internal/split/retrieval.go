package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/maauso/audiosplit-api/internal/apperr"
	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/session"
	"github.com/maauso/audiosplit-api/internal/storage"
)

// Messages returned for retrieval failures.
const (
	MsgSessionNotFound    = "Session not found"
	MsgInvalidChunkNumber = "Invalid chunk number"
	MsgFileNotFound       = "File not found"
)

// ReasonDeleted is the eviction reason for explicitly deleted sessions.
const ReasonDeleted = "deleted"

// Download is an open chunk ready to be streamed to a client.
type Download struct {
	ChunkNumber int
	FileName    string
	ContentType string
	// Body must be closed by the caller. It may implement io.ReadSeeker.
	Body io.ReadCloser
}

// SessionInfo describes a live session.
type SessionInfo struct {
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
	Chunks    []ChunkInfo
}

// RetrievalService looks up and opens chunks of live sessions.
type RetrievalService struct {
	store     session.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	profile   audio.Profile
	retention time.Duration
}

// RetrievalOption is a function that configures a RetrievalService.
type RetrievalOption func(*RetrievalService)

// WithRetrievalProfile sets the profile chunks were rendered with, which
// determines the served file name and content type.
func WithRetrievalProfile(p audio.Profile) RetrievalOption {
	return func(s *RetrievalService) {
		s.profile = p
	}
}

// WithRetention sets the retention window reported by Describe.
func WithRetention(d time.Duration) RetrievalOption {
	return func(s *RetrievalService) {
		s.retention = d
	}
}

// WithRetrievalMetrics records download and deletion metrics.
func WithRetrievalMetrics(m *metrics.Metrics) RetrievalOption {
	return func(s *RetrievalService) {
		s.metrics = m
	}
}

// NewRetrievalService creates a new RetrievalService.
func NewRetrievalService(store session.Store, logger *slog.Logger, opts ...RetrievalOption) *RetrievalService {
	s := &RetrievalService{
		store:     store,
		logger:    logger,
		profile:   audio.DefaultProfile(),
		retention: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Get opens chunk chunkNumber of session sessionID. It fails with a
// not-found error when the session is unknown, the chunk number is out of
// range, or the backing object has already been deleted.
func (s *RetrievalService) Get(ctx context.Context, sessionID string, chunkNumber int) (*Download, error) {
	d, err := s.get(ctx, sessionID, chunkNumber)
	if err != nil {
		s.metrics.RecordDownload(string(apperr.KindOf(err)))
		return nil, err
	}
	s.metrics.RecordDownload(outcomeSuccess)
	return d, nil
}

func (s *RetrievalService) get(ctx context.Context, sessionID string, chunkNumber int) (*Download, error) {
	const op = "download"

	a, err := s.store.GetArtifact(ctx, sessionID, chunkNumber)
	if err != nil {
		return nil, lookupError(op, err)
	}

	// The reaper may have deleted the object between lookup and read.
	ok, err := a.Handle.Exists(ctx)
	if err != nil {
		return nil, apperr.NewInternal(op, err)
	}
	if !ok {
		return nil, apperr.NewNotFound(op, MsgFileNotFound)
	}

	body, err := a.Handle.Open(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			return nil, apperr.NewNotFound(op, MsgFileNotFound)
		}
		return nil, apperr.NewInternal(op, err)
	}

	return &Download{
		ChunkNumber: chunkNumber,
		FileName:    fmt.Sprintf("chunk_%d%s", chunkNumber, s.profile.Extension()),
		ContentType: s.profile.ContentType(),
		Body:        body,
	}, nil
}

// Describe returns the metadata of a live session. Chunk URLs are built
// from baseURL.
func (s *RetrievalService) Describe(ctx context.Context, sessionID, baseURL string) (*SessionInfo, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, lookupError("describe", err)
	}

	return &SessionInfo{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt(s.retention),
		Chunks:    describeChunks(sess, baseURL),
	}, nil
}

// Delete removes a session ahead of its expiry and deletes its artifacts.
// The session is unreachable before any artifact is deleted. Artifact
// deletion failures are logged, not returned.
func (s *RetrievalService) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.store.Remove(ctx, sessionID)
	if err != nil {
		return lookupError("delete", err)
	}
	s.metrics.RecordSessionsEvicted(ReasonDeleted, 1)

	err = sess.DeleteArtifacts(ctx, func(_ session.ChunkArtifact, err error) {
		s.metrics.RecordArtifactDelete(err)
	})
	if err != nil {
		s.logger.Warn("failed to delete session artifacts",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("session deleted",
		slog.String("session_id", sess.ID),
		slog.Int("chunks", sess.Len()),
	)
	return nil
}

// lookupError maps store errors to not-found errors with client messages.
func lookupError(op string, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return apperr.NewNotFound(op, MsgSessionNotFound)
	case errors.Is(err, session.ErrInvalidChunkNumber):
		return apperr.NewNotFound(op, MsgInvalidChunkNumber)
	default:
		return apperr.NewInternal(op, err)
	}
}
