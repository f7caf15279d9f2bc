// Package server provides the HTTP server for the audio split API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// SplitRequest is the HTTP request body for splitting a remote audio file.
type SplitRequest struct {
	// AudioURL is the http(s) URL of the source audio.
	AudioURL string `json:"audio_url" validate:"required,http_url"`
	// ChunkMinutes is the chunk length in minutes. Defaults to 5 when omitted.
	ChunkMinutes *float64 `json:"chunk_minutes" validate:"omitempty,gt=0,lte=1440"`
}

// ChunkResponse describes one chunk of a split.
type ChunkResponse struct {
	// URL is where the chunk can be downloaded.
	URL string `json:"url"`
	// ChunkNumber is the 1-based position of the chunk.
	ChunkNumber int `json:"chunk_number"`
	// StartTime is the chunk start offset in seconds.
	StartTime float64 `json:"start_time"`
	// EndTime is the chunk end offset in seconds.
	EndTime float64 `json:"end_time"`
	// DurationMinutes is the chunk length in minutes.
	DurationMinutes float64 `json:"duration_minutes"`
}

// SplitResponse is the HTTP response after a successful split.
type SplitResponse struct {
	Success              bool            `json:"success"`
	SessionID            string          `json:"session_id"`
	TotalChunks          int             `json:"total_chunks"`
	TotalDurationMinutes float64         `json:"total_duration_minutes"`
	Chunks               []ChunkResponse `json:"chunks"`
}

// SplitFailureResponse is the HTTP response when a split fails.
type SplitFailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`
}

// SessionResponse is the HTTP response for inspecting a live session.
type SessionResponse struct {
	SessionID   string          `json:"session_id"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	TotalChunks int             `json:"total_chunks"`
	Chunks      []ChunkResponse `json:"chunks"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
