package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/episode.mp3", r.URL.Path)
		assert.Equal(t, "audiosplit-api", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("fake-audio-data"))
	}))
	defer server.Close()

	src := NewHTTPSource()
	body, err := src.Fetch(context.Background(), server.URL+"/episode.mp3")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "fake-audio-data", string(data))
}

func TestHTTPSource_Fetch_InvalidURL(t *testing.T) {
	src := NewHTTPSource()

	for _, raw := range []string{"", "not a url", "ftp://example.com/a.mp3", "/relative/path.mp3", "http://"} {
		_, err := src.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", raw)
	}
}

func TestHTTPSource_Fetch_NotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	src := NewHTTPSource(WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	_, err := src.Fetch(context.Background(), server.URL+"/missing.mp3")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestHTTPSource_Fetch_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	src := NewHTTPSource(WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	body, err := src.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSource_Fetch_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	src := NewHTTPSource(WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	_, err := src.Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSource_Fetch_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewHTTPSource().Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_Fetch_ContentLengthTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	_, err := NewHTTPSource(WithMaxBytes(10)).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTPSource_Fetch_StreamTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing forces chunked encoding, so no Content-Length is sent.
		_, _ = w.Write([]byte(strings.Repeat("a", 8)))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(strings.Repeat("b", 8)))
	}))
	defer server.Close()

	body, err := NewHTTPSource(WithMaxBytes(10)).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHTTPSource_Fetch_ExactlyAtLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	body, err := NewHTTPSource(WithMaxBytes(10)).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestHTTPSource_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewHTTPSource(WithTimeout(50 * time.Millisecond)).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPSource_Fetch_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	_, err := NewHTTPSource().Fetch(context.Background(), target)
	require.Error(t, err)
	assert.True(t, isRetryable(err))
}
