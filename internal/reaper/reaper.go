// Package reaper evicts expired sessions and deletes their artifacts.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/session"
)

// Eviction reasons recorded in metrics and logs.
const (
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
)

// ErrAlreadyRunning is returned by Start when the reaper is already running.
var ErrAlreadyRunning = errors.New("reaper: already running")

// Reaper periodically removes sessions older than the retention window.
type Reaper struct {
	store     session.Store
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option is a function that configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		r.interval = d
	}
}

// WithRetention sets how long a session lives after creation.
func WithRetention(d time.Duration) Option {
	return func(r *Reaper) {
		r.retention = d
	}
}

// WithClock sets the time source used to judge expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

// WithMetrics records evictions and deletions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

// New creates a Reaper over store. Interval and retention default to one hour.
func New(store session.Store, logger *slog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		store:     store,
		interval:  time.Hour,
		retention: time.Hour,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Retention returns the configured retention window.
func (r *Reaper) Retention() time.Duration {
	return r.retention
}

// Run sweeps once per interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("retention", r.retention),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx, r.now())
		}
	}
}

// Start runs the reaper in a background goroutine.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return nil
}

// Stop cancels a running reaper and waits for it to exit. A sweep in
// progress finishes its current deletion first. Stop is a no-op when the
// reaper is not running.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep removes every session expired at now and deletes its artifacts.
// Deletion failures are logged and do not stop the sweep. It returns the
// number of sessions removed.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) int {
	expired, err := r.store.RemoveExpired(ctx, now, r.retention)
	if err != nil {
		r.logger.Error("sweep failed", slog.String("error", err.Error()))
		return 0
	}

	r.release(ctx, expired, ReasonExpired)
	return len(expired)
}

// Purge removes every session regardless of age and deletes its artifacts.
func (r *Reaper) Purge(ctx context.Context) int {
	all, err := r.store.RemoveAll(ctx)
	if err != nil {
		r.logger.Error("purge failed", slog.String("error", err.Error()))
		return 0
	}

	r.release(ctx, all, ReasonShutdown)
	return len(all)
}

// release deletes the artifacts of sessions already removed from the store.
func (r *Reaper) release(ctx context.Context, sessions []*session.Session, reason string) {
	if len(sessions) == 0 {
		return
	}

	r.metrics.RecordSessionsEvicted(reason, len(sessions))

	for _, sess := range sessions {
		err := sess.DeleteArtifacts(ctx, func(_ session.ChunkArtifact, err error) {
			r.metrics.RecordArtifactDelete(err)
		})
		if err != nil {
			r.logger.Warn("failed to delete session artifacts",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
		}
		r.logger.Debug("session evicted",
			slog.String("session_id", sess.ID),
			slog.String("reason", reason),
			slog.Int("chunks", sess.Len()),
		)
	}

	r.logger.Info("sessions evicted",
		slog.String("reason", reason),
		slog.Int("count", len(sessions)),
	)
}
