// Package split orchestrates splitting remote audio into chunk sessions and
// retrieving the resulting chunks.
package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/audiosplit-api/internal/apperr"
	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/chunk"
	"github.com/maauso/audiosplit-api/internal/fetch"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/session"
	"github.com/maauso/audiosplit-api/internal/storage"
)

// DefaultChunkMinutes is the chunk length used when the input omits one.
const DefaultChunkMinutes = 5.0

// Outcome label for a successful split.
const outcomeSuccess = "success"

// Service splits remote audio into chunk sessions.
type Service struct {
	source  fetch.Source
	codec   audio.Codec
	storage storage.Storage
	store   session.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	defaultMinutes float64
	overlapSec     float64
	maxRenders     int
	profile        audio.Profile
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithDefaultChunkMinutes sets the chunk length used when Input omits it.
func WithDefaultChunkMinutes(m float64) Option {
	return func(s *Service) {
		s.defaultMinutes = m
	}
}

// WithOverlap sets the overlap between consecutive chunks, in seconds.
func WithOverlap(sec float64) Option {
	return func(s *Service) {
		s.overlapSec = sec
	}
}

// WithMaxConcurrentRenders bounds the codec invocations in flight per split.
func WithMaxConcurrentRenders(n int) Option {
	return func(s *Service) {
		s.maxRenders = n
	}
}

// WithProfile sets the encoding of rendered chunks.
func WithProfile(p audio.Profile) Option {
	return func(s *Service) {
		s.profile = p
	}
}

// WithMetrics records split and render metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a new split Service.
func NewService(
	source fetch.Source,
	codec audio.Codec,
	store session.Store,
	st storage.Storage,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		source:         source,
		codec:          codec,
		storage:        st,
		store:          store,
		logger:         logger,
		defaultMinutes: DefaultChunkMinutes,
		overlapSec:     chunk.DefaultOverlapSec,
		maxRenders:     1,
		profile:        audio.DefaultProfile(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxRenders < 1 {
		s.maxRenders = 1
	}
	return s
}

// Profile returns the encoding used for rendered chunks.
func (s *Service) Profile() audio.Profile {
	return s.profile
}

// Split downloads the source audio, renders every chunk window and registers
// the chunks as a new session. Either every chunk is rendered and the
// session is published, or nothing is: on failure no session exists and no
// rendered file is left behind. Errors are *apperr.Error values.
func (s *Service) Split(ctx context.Context, in Input) (*Result, error) {
	started := time.Now()

	result, err := s.split(ctx, in)

	outcome := outcomeSuccess
	if err != nil {
		outcome = string(apperr.KindOf(err))
		s.logger.Error("split failed",
			slog.String("audio_url", in.AudioURL),
			slog.String("kind", outcome),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordSplit(outcome, time.Since(started))

	return result, err
}

func (s *Service) split(ctx context.Context, in Input) (*Result, error) {
	const op = "split"

	minutes := in.ChunkMinutes
	if minutes == 0 {
		minutes = s.defaultMinutes
	}
	if minutes <= 0 || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return nil, apperr.NewInvalidInput(op, fmt.Sprintf("chunk_minutes must be positive, got %v", in.ChunkMinutes), nil)
	}
	if minutes*60 <= s.overlapSec {
		return nil, apperr.NewInvalidInput(op,
			fmt.Sprintf("chunk_minutes must be longer than the %gs chunk overlap, got %v", s.overlapSec, minutes),
			chunk.ErrInvalidOverlap)
	}
	if in.AudioURL == "" {
		return nil, apperr.NewInvalidInput(op, "audio_url is required", nil)
	}

	s.logger.Info("downloading audio",
		slog.String("audio_url", in.AudioURL),
		slog.Float64("chunk_minutes", minutes),
	)

	sourcePath, err := s.download(ctx, in.AudioURL)
	if err != nil {
		return nil, err
	}
	defer s.cleanup(ctx, sourcePath)

	total, err := s.codec.Duration(ctx, sourcePath)
	if err != nil {
		return nil, apperr.NewEncoding(op, "read source duration", err)
	}
	s.metrics.RecordSource(total)

	s.logger.Info("audio downloaded",
		slog.String("audio_url", in.AudioURL),
		slog.Float64("duration_sec", total),
	)

	windows, err := chunk.Plan(total, minutes*60, s.overlapSec)
	if err != nil {
		return nil, apperr.NewInvalidInput(op, "plan chunks", err)
	}

	artifacts, err := s.render(ctx, sourcePath, windows)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Create(ctx, artifacts)
	if err != nil {
		s.discard(ctx, artifacts)
		return nil, apperr.NewInternal(op, fmt.Errorf("register session: %w", err))
	}
	s.metrics.RecordSessionCreated()

	s.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.Int("total_chunks", sess.Len()),
		slog.Float64("duration_sec", total),
	)

	return &Result{
		SessionID:            sess.ID,
		CreatedAt:            sess.CreatedAt,
		TotalDurationMinutes: round2(total / 60),
		Chunks:               describeChunks(sess, in.BaseURL),
	}, nil
}

// download streams the source into scratch storage.
func (s *Service) download(ctx context.Context, audioURL string) (string, error) {
	const op = "split"

	body, err := s.source.Fetch(ctx, audioURL)
	if err != nil {
		if errors.Is(err, fetch.ErrInvalidURL) {
			return "", apperr.NewInvalidInput(op, "audio_url must be an absolute http(s) URL", err)
		}
		return "", apperr.NewUpstreamFetch(op, err)
	}
	defer func() { _ = body.Close() }()

	src := &readTracker{r: body}
	path, err := s.storage.SaveTemp(ctx, "source", src)
	if err != nil {
		if src.err != nil {
			return "", apperr.NewUpstreamFetch(op, src.err)
		}
		return "", apperr.NewInternal(op, fmt.Errorf("save source audio: %w", err))
	}
	return path, nil
}

// render encodes every window into its own artifact. Artifacts are returned
// in window order regardless of completion order.
func (s *Service) render(ctx context.Context, sourcePath string, windows []chunk.Window) ([]session.ChunkArtifact, error) {
	const op = "split"

	workDir, err := s.storage.WorkDir(ctx, "chunks")
	if err != nil {
		return nil, apperr.NewInternal(op, fmt.Errorf("create work directory: %w", err))
	}

	artifacts := make([]session.ChunkArtifact, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxRenders)

	for _, w := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			out := filepath.Join(workDir, fmt.Sprintf("chunk_%d%s", w.Index, s.profile.Extension()))
			started := time.Now()

			if err := s.codec.RenderRange(gctx, sourcePath, out, w.StartSec, w.Duration(), s.profile); err != nil {
				return apperr.NewEncoding(op, fmt.Sprintf("render chunk %d", w.Index), err)
			}
			s.metrics.RecordRender(time.Since(started))

			handle, err := s.storage.Publish(gctx, out)
			if err != nil {
				return apperr.NewInternal(op, fmt.Errorf("publish chunk %d: %w", w.Index, err))
			}

			artifacts[w.Index-1] = session.ChunkArtifact{Window: w, Handle: handle}

			s.logger.Debug("chunk rendered",
				slog.Int("chunk_number", w.Index),
				slog.Float64("start_sec", w.StartSec),
				slog.Float64("end_sec", w.EndSec),
				slog.String("path", handle.Location()),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.discard(ctx, artifacts)
		s.cleanup(ctx, workDir)

		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			err = apperr.NewInternal(op, err)
		}
		return nil, err
	}

	// Backends that upload on publish leave the work directory empty.
	if err := s.storage.ReleaseWorkDir(ctx, workDir); err != nil {
		s.logger.Warn("failed to release work directory",
			slog.String("path", workDir),
			slog.String("error", err.Error()),
		)
	}

	return artifacts, nil
}

// discard deletes artifacts rendered for a split that will not be published.
func (s *Service) discard(ctx context.Context, artifacts []session.ChunkArtifact) {
	ctx = context.WithoutCancel(ctx)
	for _, a := range artifacts {
		if a.Handle == nil {
			continue
		}
		if err := a.Handle.Delete(ctx); err != nil {
			s.logger.Warn("failed to delete unpublished chunk",
				slog.Int("chunk_number", a.Index()),
				slog.String("path", a.Handle.Location()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// cleanup removes scratch files even when ctx is already cancelled.
func (s *Service) cleanup(ctx context.Context, paths ...string) {
	if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), paths); err != nil {
		s.logger.Warn("failed to cleanup temp files",
			slog.Any("paths", paths),
			slog.String("error", err.Error()),
		)
	}
}

// readTracker remembers the first read error of the wrapped reader so that
// download failures can be told apart from local write failures.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
