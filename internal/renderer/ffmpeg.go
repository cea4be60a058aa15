package renderer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Output constants, landscape 1920x1080 at 24fps.
const (
	OutputWidth  = 1920
	OutputHeight = 1080
	OutputFPS    = 24
)

// RenderFailure is an encoding/codec error from the local render path.
// It is terminal for the segment: no further fallback exists beneath the
// local renderer.
type RenderFailure struct {
	Err error
}

func (e *RenderFailure) Error() string { return fmt.Sprintf("render failure: %v", e.Err) }
func (e *RenderFailure) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// FFmpeg
// ---------------------------------------------------------------------------

// FFmpeg wraps the ffmpeg/ffprobe binaries for clip rendering, placeholder
// generation, concatenation, audio muxing, and probing.
type FFmpeg struct {
	tempDir string
}

func NewFFmpeg(tempDir string) (*FFmpeg, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &FFmpeg{tempDir: tempDir}, nil
}

// TempPath returns a path for a temporary file in the service's temp directory.
func (f *FFmpeg) TempPath(filename string) string {
	return filepath.Join(f.tempDir, filename)
}

// Cleanup removes temporary files
func (f *FFmpeg) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

// RenderStill renders a still image into a video clip of the given duration
// using the supplied zoompan filter chain. Encoding errors are RenderFailure.
func (f *FFmpeg) RenderStill(ctx context.Context, imagePath, outputPath, filterExpr string, durationSec float64) error {
	args := []string{
		"-loop", "1",
		"-i", imagePath,
		"-vf", filterExpr,
		"-t", strconv.FormatFloat(durationSec, 'f', 3, 64),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "20",
		"-r", strconv.Itoa(OutputFPS),
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return &RenderFailure{Err: fmt.Errorf("ffmpeg render still failed: %w", err)}
	}

	return nil
}

// RenderPlaceholder renders a silent black clip of the given duration.
// Used by the assembly gap policy for segments that never produced an
// artifact, so the remaining timeline stays aligned with the audio.
func (f *FFmpeg) RenderPlaceholder(ctx context.Context, outputPath string, durationSec float64) error {
	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", OutputWidth, OutputHeight, OutputFPS),
		"-t", strconv.FormatFloat(durationSec, 'f', 3, 64),
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return &RenderFailure{Err: fmt.Errorf("ffmpeg render placeholder failed: %w", err)}
	}

	return nil
}

// Concat combines clips into one continuous video stream via the concat
// demuxer. Clips arrive from two render paths with potentially different
// encoder settings, so the output is re-encoded for consistency rather than
// stream-copied.
func (f *FFmpeg) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := f.TempPath(fmt.Sprintf("concat_%s.txt", filepath.Base(outputPath)))
	list, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}

	for _, path := range clipPaths {
		// FFmpeg concat demuxer format
		fmt.Fprintf(list, "file '%s'\n", path)
	}
	list.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "20",
		"-r", strconv.Itoa(OutputFPS),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// MuxAudio multiplexes the original audio track into the concatenated video,
// trimming to the shorter of the two streams so the output carries neither
// trailing silence nor blank video.
func (f *FFmpeg) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg mux audio failed: %w", err)
	}

	return nil
}

// Duration returns the duration of a media file in seconds using ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return duration, nil
}

// StreamTypes returns which stream types a media file contains.
func (f *FFmpeg) StreamTypes(ctx context.Context, path string) (hasVideo, hasAudio bool, err error) {
	args := []string{
		"-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return false, false, fmt.Errorf("ffprobe streams failed: %w", err)
	}

	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		switch strings.TrimSpace(line) {
		case "video":
			hasVideo = true
		case "audio":
			hasAudio = true
		}
	}

	return hasVideo, hasAudio, nil
}
