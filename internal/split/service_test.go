package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiosplit-api/internal/apperr"
	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/chunk"
	"github.com/maauso/audiosplit-api/internal/fetch"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/session"
	"github.com/maauso/audiosplit-api/internal/storage"
)

const testAudioURL = "https://cdn.example.com/episode.mp3"

// mockSource implements fetch.Source for testing.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// mockCodec implements audio.Codec for testing.
type mockCodec struct {
	mock.Mock
}

func (m *mockCodec) Duration(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockCodec) RenderRange(ctx context.Context, in, out string, start, dur float64, profile audio.Profile) error {
	args := m.Called(ctx, in, out, start, dur, profile)
	return args.Error(0)
}

// writeOutput makes a RenderRange expectation create its output file.
func writeOutput(args mock.Arguments) {
	out := args.String(2)
	_ = os.WriteFile(out, []byte("encoded "+filepath.Base(out)), 0o600)
}

// failingReader fails after yielding some bytes.
type failingReader struct {
	sent bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset by peer")
}

type testEnv struct {
	svc     *Service
	source  *mockSource
	codec   *mockCodec
	store   *session.MemoryStore
	storage *storage.LocalStorage
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "audiosplit"))
	require.NoError(t, err)

	env := &testEnv{
		source:  &mockSource{},
		codec:   &mockCodec{},
		store:   session.NewMemoryStore(),
		storage: st,
		metrics: metrics.New(),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	opts = append([]Option{WithMetrics(env.metrics)}, opts...)
	env.svc = NewService(env.source, env.codec, env.store, st, logger, opts...)
	return env
}

func (e *testEnv) expectFetch(body string) {
	e.source.On("Fetch", mock.Anything, testAudioURL).
		Return(io.NopCloser(strings.NewReader(body)), nil).Once()
}

// tempEntries lists everything left in the storage root.
func (e *testEnv) tempEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.storage.TempDir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestService_Split_SeventeenMinutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(1020.0, nil).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, audio.DefaultProfile()).
		Run(writeOutput).Return(nil).Times(4)

	res, err := env.svc.Split(ctx, Input{AudioURL: testAudioURL, ChunkMinutes: 5, BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)

	assert.Len(t, res.SessionID, 8)
	assert.Equal(t, 4, res.TotalChunks())
	assert.Equal(t, 17.0, res.TotalDurationMinutes)

	want := []ChunkInfo{
		{ChunkNumber: 1, StartTime: 0, EndTime: 300, DurationMinutes: 5},
		{ChunkNumber: 2, StartTime: 298, EndTime: 598, DurationMinutes: 5},
		{ChunkNumber: 3, StartTime: 596, EndTime: 896, DurationMinutes: 5},
		{ChunkNumber: 4, StartTime: 894, EndTime: 1020, DurationMinutes: 2.1},
	}
	for i, w := range want {
		w.URL = fmt.Sprintf("http://localhost:8080/download/%s/%d", res.SessionID, i+1)
		assert.Equal(t, w, res.Chunks[i])
	}

	env.codec.AssertCalled(t, "RenderRange", mock.Anything, mock.Anything, mock.Anything, 298.0, 300.0, audio.DefaultProfile())
	env.codec.AssertCalled(t, "RenderRange", mock.Anything, mock.Anything, mock.Anything, 894.0, 126.0, audio.DefaultProfile())

	sess, err := env.store.Get(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, 4, sess.Len())
	for i, a := range sess.Artifacts {
		assert.Equal(t, i+1, a.Index())
		assert.Equal(t, fmt.Sprintf("chunk_%d.mp3", i+1), filepath.Base(a.Handle.Location()))
		ok, err := a.Handle.Exists(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Only the work directory survives; the downloaded source is gone.
	entries := env.tempEntries(t)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0], "chunks_"))

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SplitsTotal.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(env.metrics.ChunksRendered))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ActiveSessions))
}

func TestService_Split_DefaultChunkMinutes(t *testing.T) {
	env := newTestEnv(t, WithDefaultChunkMinutes(10))

	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(900.0, nil).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(writeOutput).Return(nil)

	res, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL})
	require.NoError(t, err)

	require.Equal(t, 2, res.TotalChunks())
	assert.Equal(t, 600.0, res.Chunks[0].EndTime)
	assert.Equal(t, 598.0, res.Chunks[1].StartTime)
	assert.Equal(t, "/download/"+res.SessionID+"/1", res.Chunks[0].URL)
}

func TestService_Split_ShortAudio(t *testing.T) {
	env := newTestEnv(t)

	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(42.123, nil).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, 0.0, 42.123, mock.Anything).
		Run(writeOutput).Return(nil).Once()

	res, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL, ChunkMinutes: 5})
	require.NoError(t, err)

	require.Equal(t, 1, res.TotalChunks())
	assert.Equal(t, 42.12, res.Chunks[0].EndTime)
	assert.Equal(t, 0.7, res.Chunks[0].DurationMinutes)
	assert.Equal(t, 0.7, res.TotalDurationMinutes)
}

func TestService_Split_InvalidChunkMinutes(t *testing.T) {
	env := newTestEnv(t)

	for _, minutes := range []float64{-1, -0.5} {
		_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL, ChunkMinutes: minutes})
		assert.ErrorIs(t, err, apperr.InvalidInput, "minutes %v", minutes)
	}

	env.source.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestService_Split_ChunkNotLongerThanOverlap(t *testing.T) {
	env := newTestEnv(t)

	// 0.01 minutes is 0.6s, shorter than the default 2s overlap.
	for _, minutes := range []float64{0.01, chunk.DefaultOverlapSec / 60} {
		_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL, ChunkMinutes: minutes})
		assert.ErrorIs(t, err, apperr.InvalidInput, "minutes %v", minutes)
		assert.ErrorIs(t, err, chunk.ErrInvalidOverlap, "minutes %v", minutes)
	}

	env.source.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	env.codec.AssertNotCalled(t, "Duration", mock.Anything, mock.Anything)
}

func TestService_Split_MissingURL(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Split(context.Background(), Input{})
	assert.ErrorIs(t, err, apperr.InvalidInput)
}

func TestService_Split_InvalidURL(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("Fetch", mock.Anything, "ftp://example.com/a.mp3").
		Return(nil, fmt.Errorf("%w: scheme", fetch.ErrInvalidURL)).Once()

	_, err := env.svc.Split(context.Background(), Input{AudioURL: "ftp://example.com/a.mp3"})
	assert.ErrorIs(t, err, apperr.InvalidInput)
}

func TestService_Split_FetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("Fetch", mock.Anything, testAudioURL).
		Return(nil, fmt.Errorf("%w 404: not found", fetch.ErrUnexpectedStatus)).Once()

	_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL})

	require.ErrorIs(t, err, apperr.UpstreamFetch)
	assert.ErrorIs(t, err, fetch.ErrUnexpectedStatus)
	assert.Equal(t, 0, env.store.Len())
	assert.Empty(t, env.tempEntries(t))
	env.codec.AssertNotCalled(t, "Duration", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SplitsTotal.WithLabelValues("upstream_fetch")))
}

func TestService_Split_FetchReadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("Fetch", mock.Anything, testAudioURL).
		Return(io.NopCloser(&failingReader{}), nil).Once()

	_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL})

	assert.ErrorIs(t, err, apperr.UpstreamFetch)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Empty(t, env.tempEntries(t))
}

func TestService_Split_DurationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.expectFetch("<html>not audio</html>")
	env.codec.On("Duration", mock.Anything, mock.Anything).
		Return(0.0, audio.ErrDurationUnavailable).Once()

	_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL})

	assert.ErrorIs(t, err, apperr.Encoding)
	assert.Equal(t, 0, env.store.Len())
	assert.Empty(t, env.tempEntries(t))
}

func TestService_Split_ZeroDuration(t *testing.T) {
	env := newTestEnv(t)
	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(0.0, nil).Once()

	_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL})

	assert.ErrorIs(t, err, apperr.InvalidInput)
	env.codec.AssertNotCalled(t, "RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Split_RenderFailureDiscardsChunks(t *testing.T) {
	env := newTestEnv(t)
	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(1020.0, nil).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, 596.0, mock.Anything, mock.Anything).
		Run(writeOutput).Return(errors.New("encoder crashed")).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(writeOutput).Return(nil)

	_, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL, ChunkMinutes: 5})

	require.ErrorIs(t, err, apperr.Encoding)
	assert.Contains(t, err.Error(), "render chunk 3")
	assert.Equal(t, 0, env.store.Len(), "no partial session may be published")
	assert.Empty(t, env.tempEntries(t), "rendered chunks and source must be removed")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SplitsTotal.WithLabelValues("encoding")))
}

func TestService_Split_ConcurrentRendersKeepOrder(t *testing.T) {
	env := newTestEnv(t, WithMaxConcurrentRenders(4))

	var inFlight, peak atomic.Int32
	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(3600.0, nil).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			writeOutput(args)
			inFlight.Add(-1)
		}).Return(nil)

	res, err := env.svc.Split(context.Background(), Input{AudioURL: testAudioURL, ChunkMinutes: 1})
	require.NoError(t, err)

	sess, err := env.store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	for i, a := range sess.Artifacts {
		assert.Equal(t, i+1, a.Index())
		assert.Equal(t, fmt.Sprintf("chunk_%d.mp3", i+1), filepath.Base(a.Handle.Location()))
	}
	for i := 1; i < len(res.Chunks); i++ {
		assert.Equal(t, res.Chunks[i-1].EndTime-2, res.Chunks[i].StartTime)
	}
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestService_Split_SessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.source.On("Fetch", mock.Anything, testAudioURL).
		Return(io.NopCloser(strings.NewReader("a")), nil).Once()
	env.source.On("Fetch", mock.Anything, testAudioURL).
		Return(io.NopCloser(strings.NewReader("b")), nil).Once()
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(400.0, nil)
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(writeOutput).Return(nil)

	first, err := env.svc.Split(ctx, Input{AudioURL: testAudioURL})
	require.NoError(t, err)
	second, err := env.svc.Split(ctx, Input{AudioURL: testAudioURL})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	retrieval := NewRetrievalService(env.store, nil)
	require.NoError(t, retrieval.Delete(ctx, first.SessionID))

	d, err := retrieval.Get(ctx, second.SessionID, 2)
	require.NoError(t, err)
	defer d.Body.Close()
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, "encoded chunk_2.mp3", string(data))
}

func TestService_Split_Cancelled(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	env.expectFetch("fake-audio")
	env.codec.On("Duration", mock.Anything, mock.Anything).Return(1020.0, nil).Once()
	env.codec.On("RenderRange", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			writeOutput(args)
			cancel()
		}).Return(nil).Once()

	_, err := env.svc.Split(ctx, Input{AudioURL: testAudioURL})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, env.store.Len())
	assert.Empty(t, env.tempEntries(t))
}

func TestDownloadURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/download/abcd1234/3", DownloadURL("http://localhost:8080/", "abcd1234", 3))
	assert.Equal(t, "https://api.example.com/v1/download/abcd1234/1", DownloadURL("https://api.example.com/v1", "abcd1234", 1))
	assert.Equal(t, "/download/abcd1234/1", DownloadURL("", "abcd1234", 1))
}
