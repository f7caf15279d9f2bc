// Package audio provides the codec used to probe source audio and render
// time ranges of it to independent encoded files.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProfile is returned when an output profile cannot be rendered.
var ErrInvalidProfile = errors.New("audio: invalid output profile")

// Profile fixes the encoding of rendered chunks.
type Profile struct {
	// Format is the ffmpeg muxer name, which doubles as the file extension.
	// Default: "mp3".
	Format string

	// Bitrate is the target audio bitrate in ffmpeg notation.
	// Default: "64k".
	Bitrate string

	// Channels is the output channel count.
	// Default: 1 (mono).
	Channels int
}

// DefaultProfile returns mono MP3 at 64 kbps.
func DefaultProfile() Profile {
	return Profile{
		Format:   "mp3",
		Bitrate:  "64k",
		Channels: 1,
	}
}

// Validate checks that every field is set.
func (p Profile) Validate() error {
	if p.Format == "" {
		return fmt.Errorf("%w: format is required", ErrInvalidProfile)
	}
	if strings.ContainsAny(p.Format, `/\ .`) {
		return fmt.Errorf("%w: format %q", ErrInvalidProfile, p.Format)
	}
	if p.Bitrate == "" {
		return fmt.Errorf("%w: bitrate is required", ErrInvalidProfile)
	}
	if p.Channels < 1 {
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidProfile, p.Channels)
	}
	return nil
}

// Extension returns the file extension for rendered chunks, with the dot.
func (p Profile) Extension() string {
	return "." + p.Format
}

// ContentType returns the MIME type served for rendered chunks.
func (p Profile) ContentType() string {
	switch strings.ToLower(p.Format) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "ipod", "mp4", "m4a", "adts":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Codec probes and renders audio files.
type Codec interface {
	// Duration returns the length of the audio at path, in seconds.
	Duration(ctx context.Context, path string) (float64, error)

	// RenderRange encodes durationSec seconds of inputPath starting at
	// startSec into outputPath using profile. The output file is
	// overwritten if it exists.
	RenderRange(ctx context.Context, inputPath, outputPath string, startSec, durationSec float64, profile Profile) error
}
