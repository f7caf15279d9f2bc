package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/maauso/audiosplit-api/internal/apperr"
	"github.com/maauso/audiosplit-api/internal/split"
)

// maxRequestBody bounds the JSON body of POST /split.
const maxRequestBody = 1 << 20

// Splitter creates split sessions.
type Splitter interface {
	Split(ctx context.Context, in split.Input) (*split.Result, error)
}

// Retriever reads and deletes live sessions.
type Retriever interface {
	Get(ctx context.Context, sessionID string, chunkNumber int) (*split.Download, error)
	Describe(ctx context.Context, sessionID, baseURL string) (*split.SessionInfo, error)
	Delete(ctx context.Context, sessionID string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	splitter      Splitter
	retriever     Retriever
	validator     *validator.Validate
	logger        *slog.Logger
	publicBaseURL string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPublicBaseURL fixes the prefix of download URLs. When empty, the
// prefix is derived from each request.
func WithPublicBaseURL(u string) HandlerOption {
	return func(h *Handlers) {
		h.publicBaseURL = strings.TrimRight(u, "/")
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(splitter Splitter, retriever Retriever, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		splitter:  splitter,
		retriever: retriever,
		validator: validator.New(),
		logger:    logger,
	}
	h.validator.RegisterTagNameFunc(jsonFieldName)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Split handles POST /split requests.
func (h *Handlers) Split(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeSplitFailure(w, http.StatusInternalServerError, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeSplitFailure(w, http.StatusInternalServerError, validationMessage(err), "VALIDATION_ERROR")
		return
	}

	input := split.Input{
		AudioURL: req.AudioURL,
		BaseURL:  h.baseURL(r),
	}
	if req.ChunkMinutes != nil {
		input.ChunkMinutes = *req.ChunkMinutes
	}

	result, err := h.splitter.Split(r.Context(), input)
	if err != nil {
		writeSplitFailure(w, http.StatusInternalServerError, apperr.Message(err), splitErrorCode(err))
		return
	}

	writeJSON(w, http.StatusOK, SplitResponse{
		Success:              true,
		SessionID:            result.SessionID,
		TotalChunks:          result.TotalChunks(),
		TotalDurationMinutes: result.TotalDurationMinutes,
		Chunks:               toChunkResponses(result.Chunks),
	})
}

// Download handles GET /download/{session_id}/{chunk_number} requests.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	chunkNumber, err := strconv.Atoi(r.PathValue("chunk_number"))
	if err != nil {
		writeError(w, http.StatusNotFound, split.MsgInvalidChunkNumber, "INVALID_CHUNK_NUMBER")
		return
	}

	d, err := h.retriever.Get(r.Context(), sessionID, chunkNumber)
	if err != nil {
		h.writeLookupError(w, err, sessionID)
		return
	}
	defer func() { _ = d.Body.Close() }()

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName}))

	if rs, ok := d.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, d.FileName, time.Time{}, rs)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, d.Body); err != nil {
		h.logger.Warn("failed to stream chunk",
			slog.String("session_id", sessionID),
			slog.Int("chunk_number", chunkNumber),
			slog.String("error", err.Error()),
		)
	}
}

// GetSession handles GET /sessions/{session_id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	info, err := h.retriever.Describe(r.Context(), sessionID, h.baseURL(r))
	if err != nil {
		h.writeLookupError(w, err, sessionID)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID:   info.SessionID,
		CreatedAt:   info.CreatedAt,
		ExpiresAt:   info.ExpiresAt,
		TotalChunks: len(info.Chunks),
		Chunks:      toChunkResponses(info.Chunks),
	})
}

// DeleteSession handles DELETE /sessions/{session_id} requests.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	if err := h.retriever.Delete(r.Context(), sessionID); err != nil {
		h.writeLookupError(w, err, sessionID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeLookupError maps retrieval failures to 404 or 500 responses.
func (h *Handlers) writeLookupError(w http.ResponseWriter, err error, sessionID string) {
	if errors.Is(err, apperr.NotFound) {
		writeError(w, http.StatusNotFound, apperr.Message(err), notFoundCode(apperr.Message(err)))
		return
	}

	h.logger.Error("session lookup failed",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
}

// baseURL returns the prefix for download URLs in responses.
func (h *Handlers) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

// splitErrorStatus maps a split failure to its HTTP status and error code.
// splitErrorCode classifies a split failure. Every failure is answered with
// 500; clients tell the causes apart by code.
func splitErrorCode(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return "INVALID_INPUT"
	case apperr.KindUpstreamFetch:
		return "UPSTREAM_FETCH_FAILED"
	case apperr.KindEncoding:
		return "ENCODING_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// validationMessage reports the first failed rule by its JSON field name.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "http_url":
		return fe.Field() + " must be an http(s) URL"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "lte":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// jsonFieldName names validation errors after the request's JSON keys.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func notFoundCode(message string) string {
	switch message {
	case split.MsgSessionNotFound:
		return "SESSION_NOT_FOUND"
	case split.MsgInvalidChunkNumber:
		return "INVALID_CHUNK_NUMBER"
	default:
		return "FILE_NOT_FOUND"
	}
}

func toChunkResponses(chunks []split.ChunkInfo) []ChunkResponse {
	out := make([]ChunkResponse, len(chunks))
	for i, c := range chunks {
		out[i] = ChunkResponse{
			URL:             c.URL,
			ChunkNumber:     c.ChunkNumber,
			StartTime:       c.StartTime,
			EndTime:         c.EndTime,
			DurationMinutes: c.DurationMinutes,
		}
	}
	return out
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeSplitFailure writes the failure body of POST /split.
func writeSplitFailure(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, SplitFailureResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
