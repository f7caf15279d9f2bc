// Package fetch retrieves source audio from remote URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Static errors for fetch operations.
var (
	// ErrInvalidURL is returned when the URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("fetch: invalid URL")
	// ErrServerError is returned when the origin returns a 5xx status code.
	ErrServerError = errors.New("fetch: server error")
	// ErrRateLimited is returned when the origin returns a 429 status code.
	ErrRateLimited = errors.New("fetch: rate limited")
	// ErrUnexpectedStatus is returned for any other non-2xx status code.
	ErrUnexpectedStatus = errors.New("fetch: unexpected status")
	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("fetch: body exceeds size limit")
)

// Source opens a byte stream for a URL.
type Source interface {
	// Fetch issues the request and returns the response body. The caller
	// must close it.
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Verify interface implementation at compile time.
var _ Source = (*HTTPSource)(nil)

// HTTPSource fetches audio over HTTP(S).
type HTTPSource struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxBytes    int64
	maxRetries  int
	baseBackoff time.Duration
	userAgent   string
}

// Option is a function that configures an HTTPSource.
type Option func(*HTTPSource)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSource) {
		s.httpClient = c
	}
}

// WithTimeout bounds the whole fetch, body included. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSource) {
		s.timeout = d
	}
}

// WithMaxBytes caps the body size. Zero disables the cap.
func WithMaxBytes(n int64) Option {
	return func(s *HTTPSource) {
		s.maxBytes = n
	}
}

// WithMaxRetries sets the number of retries for connection errors,
// 5xx and 429 responses.
func WithMaxRetries(n int) Option {
	return func(s *HTTPSource) {
		s.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) Option {
	return func(s *HTTPSource) {
		s.baseBackoff = d
	}
}

// WithUserAgent sets the User-Agent header sent to origins.
func WithUserAgent(ua string) Option {
	return func(s *HTTPSource) {
		s.userAgent = ua
	}
}

// NewHTTPSource creates a new HTTPSource. By default it does not retry and
// applies a five minute timeout.
func NewHTTPSource(opts ...Option) *HTTPSource {
	s := &HTTPSource{
		httpClient:  &http.Client{},
		timeout:     5 * time.Minute,
		baseBackoff: 1 * time.Second,
		userAgent:   "audiosplit-api",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch downloads rawURL. The returned body stays bound to the timeout, so
// reads after the deadline fail.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	cancel := context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}

	resp, err := s.getWithRetry(ctx, u.String())
	if err != nil {
		cancel()
		return nil, err
	}

	if s.maxBytes > 0 && resp.ContentLength > s.maxBytes {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: content length %d > %d", ErrTooLarge, resp.ContentLength, s.maxBytes)
	}

	return &body{rc: resp.Body, cancel: cancel, remaining: s.maxBytes, limited: s.maxBytes > 0}, nil
}

// getWithRetry performs a GET with exponential backoff retry.
func (s *HTTPSource) getWithRetry(ctx context.Context, target string) (*http.Response, error) {
	var lastErr error
	backoff := s.baseBackoff

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		resp, err := s.get(ctx, target)
		if err == nil {
			return resp, nil
		}

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
	}

	if s.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("fetch: max retries exceeded: %w", lastErr)
}

// get performs a single GET and checks the status.
func (s *HTTPSource) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("fetch: request failed: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	// Only a short prefix of error bodies is kept for the message.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(snippet))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(snippet))}
	default:
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(snippet))
	}
}

// body enforces the size cap while streaming and releases the timeout on
// Close.
type body struct {
	rc        io.ReadCloser
	cancel    context.CancelFunc
	remaining int64
	limited   bool
}

func (b *body) Read(p []byte) (int, error) {
	if !b.limited {
		return b.rc.Read(p)
	}
	if b.remaining <= 0 {
		// Probe one byte to tell EOF from overflow.
		var one [1]byte
		n, err := b.rc.Read(one[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *body) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
