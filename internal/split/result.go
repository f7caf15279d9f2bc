package split

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/audiosplit-api/internal/session"
)

// Input contains the parameters for one split.
type Input struct {
	// AudioURL is the http(s) URL of the source audio.
	AudioURL string
	// ChunkMinutes is the chunk length. Zero selects the service default.
	ChunkMinutes float64
	// BaseURL prefixes the download URLs in the result, e.g.
	// "https://api.example.com".
	BaseURL string
}

// ChunkInfo describes one rendered chunk.
type ChunkInfo struct {
	URL             string
	ChunkNumber     int
	StartTime       float64
	EndTime         float64
	DurationMinutes float64
}

// Result is the outcome of a successful split.
type Result struct {
	SessionID            string
	CreatedAt            time.Time
	TotalDurationMinutes float64
	Chunks               []ChunkInfo
}

// TotalChunks returns the number of chunks.
func (r *Result) TotalChunks() int {
	return len(r.Chunks)
}

// DownloadURL builds the retrieval URL for one chunk.
func DownloadURL(baseURL, sessionID string, chunkNumber int) string {
	return strings.TrimRight(baseURL, "/") + "/download/" + sessionID + "/" + strconv.Itoa(chunkNumber)
}

// describeChunks converts session artifacts into response metadata.
func describeChunks(sess *session.Session, baseURL string) []ChunkInfo {
	chunks := make([]ChunkInfo, 0, sess.Len())
	for _, a := range sess.Artifacts {
		chunks = append(chunks, ChunkInfo{
			URL:             DownloadURL(baseURL, sess.ID, a.Index()),
			ChunkNumber:     a.Index(),
			StartTime:       round2(a.Window.StartSec),
			EndTime:         round2(a.Window.EndSec),
			DurationMinutes: round2(a.Window.Duration() / 60),
		})
	}
	return chunks
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
