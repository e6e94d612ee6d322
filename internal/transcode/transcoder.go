// Package transcode wraps the external ffmpeg binary that turns an uploaded
// container file into a segmented HLS stream. ffmpeg is treated as a black
// box: one subprocess per job, one attempt, success means exit code zero and
// a manifest on disk.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Converter produces an HLS output tree from one stored input file.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputDir string) error
}

// Options configures the ffmpeg invocation. Zero values fall back to the
// defaults used by the upload pipeline: H.264 video, AAC audio, 10-second
// segments, and a closed VOD playlist.
type Options struct {
	BinaryPath     string
	VideoCodec     string
	AudioCodec     string
	SegmentSeconds int
	SegmentPattern string
	ManifestName   string
	Logger         *slog.Logger
}

// FFmpeg invokes the configured ffmpeg binary. It is safe for concurrent use;
// each Convert call owns its own subprocess.
type FFmpeg struct {
	opts Options
}

// New builds an FFmpeg converter, applying defaults for unset options.
func New(opts Options) *FFmpeg {
	if strings.TrimSpace(opts.BinaryPath) == "" {
		opts.BinaryPath = "ffmpeg"
	}
	if strings.TrimSpace(opts.VideoCodec) == "" {
		opts.VideoCodec = "libx264"
	}
	if strings.TrimSpace(opts.AudioCodec) == "" {
		opts.AudioCodec = "aac"
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 10
	}
	if strings.TrimSpace(opts.SegmentPattern) == "" {
		opts.SegmentPattern = "segment%03d.ts"
	}
	if strings.TrimSpace(opts.ManifestName) == "" {
		opts.ManifestName = "index.m3u8"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FFmpeg{opts: opts}
}

// Probe verifies that the configured binary is resolvable, so a missing
// ffmpeg installation fails at startup instead of on the first upload.
func (f *FFmpeg) Probe() error {
	if _, err := exec.LookPath(f.opts.BinaryPath); err != nil {
		return fmt.Errorf("ffmpeg binary %q not found: %w", f.opts.BinaryPath, err)
	}
	return nil
}

// Args builds the fixed command line for one conversion: remux input into a
// finite VOD playlist with sequentially numbered transport-stream segments
// rooted at outputDir.
func (f *FFmpeg) Args(inputPath, outputDir string) []string {
	return []string{
		"-i", inputPath,
		"-codec:v", f.opts.VideoCodec,
		"-codec:a", f.opts.AudioCodec,
		"-hls_time", strconv.Itoa(f.opts.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, f.opts.SegmentPattern),
		"-start_number", "0",
		filepath.Join(outputDir, f.opts.ManifestName),
	}
}

// Convert runs ffmpeg to completion. The subprocess is killed when ctx is
// cancelled. On failure the returned error carries the tail of ffmpeg's
// stderr, which is where ffmpeg reports what went wrong.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, outputDir string) error {
	if strings.TrimSpace(inputPath) == "" {
		return fmt.Errorf("input path is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	args := f.Args(inputPath, outputDir)
	cmd := exec.CommandContext(ctx, f.opts.BinaryPath, args...)

	tail := newTailWriter(50)
	cmd.Stdout = tail
	cmd.Stderr = tail

	f.opts.Logger.Debug("starting ffmpeg", "input", inputPath, "output_dir", outputDir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		if lines := tail.Lines(); len(lines) > 0 {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.Join(lines, "\n"))
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// tailWriter keeps the last n lines written to it. ffmpeg is chatty on
// stderr, and only the end of the transcript matters after a failure.
type tailWriter struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial strings.Builder
}

func newTailWriter(limit int) *tailWriter {
	if limit <= 0 {
		limit = 1
	}
	return &tailWriter{limit: limit}
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		if b == '\n' || b == '\r' {
			t.flushLocked()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *tailWriter) flushLocked() {
	line := strings.TrimSpace(t.partial.String())
	t.partial.Reset()
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

// Lines returns the captured tail, including any unterminated final line.
func (t *tailWriter) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
	return append([]string(nil), t.lines...)
}
