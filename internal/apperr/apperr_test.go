package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), KindInternal},
		{"context cancelled", context.Canceled, KindInternal},
		{"invalid input", NewInvalidInput("plan", "bad duration", nil), KindInvalidInput},
		{"wrapped upstream", fmt.Errorf("split: %w", NewUpstreamFetch("fetch", errors.New("dial"))), KindUpstreamFetch},
		{"encoding", NewEncoding("render", "chunk 2", errors.New("exit 1")), KindEncoding},
		{"not found", NewNotFound("get", "Session not found"), KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewNotFound("lookup", "Invalid chunk number"))

	assert.ErrorIs(t, err, NotFound)
	assert.NotErrorIs(t, err, Encoding)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUpstreamFetch("split", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "split: fetch source audio: connection refused", err.Error())
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Session not found", Message(NewNotFound("retrieve", "Session not found")))
	assert.Equal(t, "render: chunk 1: exit status 1",
		Message(NewEncoding("render", "chunk 1", errors.New("exit status 1"))))
	assert.Equal(t, "boom", Message(errors.New("boom")))

	// Only not-found errors drop the op prefix.
	invalid := NewInvalidInput("split", "audio_url is required", nil)
	assert.Equal(t, invalid.Error(), Message(invalid))
	assert.NotEqual(t, "audio_url is required", Message(invalid))
}
