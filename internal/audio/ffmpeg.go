package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Static errors for codec operations.
var (
	// ErrInvalidRange is returned when a render range is empty or negative.
	ErrInvalidRange = errors.New("audio: invalid render range")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrDurationUnavailable is returned when no duration can be determined.
	ErrDurationUnavailable = errors.New("audio: could not determine duration")
)

// Verify interface implementation at compile time.
var _ Codec = (*FFmpegCodec)(nil)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// FFmpegCodec implements Codec using the ffmpeg and ffprobe CLIs.
type FFmpegCodec struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegCodec creates a new FFmpegCodec.
// Empty paths default to "ffmpeg" and "ffprobe" (found in PATH).
func NewFFmpegCodec(ffmpegPath, ffprobePath string) *FFmpegCodec {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegCodec{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Duration returns the duration in seconds of an audio file. It asks ffprobe
// for the container duration and falls back to the "Duration:" line ffmpeg
// prints when probing the input.
func (c *FFmpegCodec) Duration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("input file: %w", err)
	}

	d, probeErr := c.probeDuration(ctx, path)
	if probeErr == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return 0, probeErr
	}

	d, err := c.scanDuration(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w (ffprobe: %w)", ErrDurationUnavailable, err, probeErr)
	}
	return d, nil
}

// probeDuration uses ffprobe to extract the duration metadata.
func (c *FFmpegCodec) probeDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeDuration(stdout.String())
}

// scanDuration runs ffmpeg with a null output and parses the duration it
// reports on stderr.
func (c *FFmpegCodec) scanDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-i", path,
		"-hide_banner",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero with a null output on some builds; stderr still
	// carries the duration.
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	return parseFFmpegDuration(stderr.String())
}

// parseProbeDuration parses ffprobe's bare "format=duration" output.
func parseProbeDuration(output string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(output), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(output), err)
	}
	if d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
		return 0, fmt.Errorf("%w: ffprobe reported %v", ErrDurationUnavailable, d)
	}
	return d, nil
}

// parseFFmpegDuration extracts "Duration: HH:MM:SS.frac" from ffmpeg stderr.
func parseFFmpegDuration(output string) (float64, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, fmt.Errorf("could not parse duration from ffmpeg output")
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat(matches[4], 64)

	// Fraction precision varies between builds.
	total := hours*3600 + minutes*60 + seconds + frac/math.Pow(10, float64(len(matches[4])))
	if total <= 0 {
		return 0, fmt.Errorf("%w: ffmpeg reported zero duration", ErrDurationUnavailable)
	}
	return total, nil
}

// RenderRange re-encodes a portion of the input to a new file.
func (c *FFmpegCodec) RenderRange(ctx context.Context, inputPath, outputPath string, startSec, durationSec float64, profile Profile) error {
	if startSec < 0 || durationSec <= 0 || math.IsNaN(startSec) || math.IsNaN(durationSec) {
		return fmt.Errorf("%w: start=%.3f duration=%.3f", ErrInvalidRange, startSec, durationSec)
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	return c.runFFmpeg(ctx, renderArgs(inputPath, outputPath, startSec, durationSec, profile))
}

// renderArgs builds the ffmpeg command line for one range.
func renderArgs(inputPath, outputPath string, startSec, durationSec float64, profile Profile) []string {
	return []string{
		"-y", // Overwrite output
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-i", inputPath,
		"-vn", // Drop cover art and any video stream
		"-ac", strconv.Itoa(profile.Channels),
		"-b:a", profile.Bitrate,
		"-f", profile.Format,
		outputPath,
	}
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (c *FFmpegCodec) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
