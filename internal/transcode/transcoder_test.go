package transcode

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestArgsDefaultPipeline(t *testing.T) {
	converter := New(Options{})
	got := converter.Args("/in/file-abc.mp4", "/out/abc")
	want := []string{
		"-i", "/in/file-abc.mp4",
		"-codec:v", "libx264",
		"-codec:a", "aac",
		"-hls_time", "10",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join("/out/abc", "segment%03d.ts"),
		"-start_number", "0",
		filepath.Join("/out/abc", "index.m3u8"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args\n got: %v\nwant: %v", got, want)
	}
}

func TestArgsHonoursOverrides(t *testing.T) {
	converter := New(Options{SegmentSeconds: 4, VideoCodec: "libx265"})
	args := converter.Args("in.mp4", "out")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-hls_time 4") {
		t.Fatalf("expected segment override in %q", joined)
	}
	if !strings.Contains(joined, "-codec:v libx265") {
		t.Fatalf("expected codec override in %q", joined)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	converter := New(Options{BinaryPath: "definitely-not-ffmpeg-xyz"})
	if err := converter.Probe(); err == nil {
		t.Fatal("expected probe failure for missing binary")
	}
}

// writeFakeBinary creates an executable shell script standing in for ffmpeg.
func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestConvertSuccess(t *testing.T) {
	// The fake writes the manifest to its final argument, like ffmpeg would.
	binary := writeFakeBinary(t, `for last; do :; done
printf '#EXTM3U\n' > "$last"
exit 0
`)
	converter := New(Options{BinaryPath: binary})

	outputDir := filepath.Join(t.TempDir(), "out")
	input := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(input, []byte("data"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if err := converter.Convert(context.Background(), input, outputDir); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "index.m3u8")); err != nil {
		t.Fatalf("expected manifest to exist: %v", err)
	}
}

func TestConvertFailureCarriesStderrTail(t *testing.T) {
	binary := writeFakeBinary(t, `echo "Invalid data found when processing input" >&2
exit 1
`)
	converter := New(Options{BinaryPath: binary})

	err := converter.Convert(context.Background(), "input.mp4", t.TempDir())
	if err == nil {
		t.Fatal("expected conversion failure")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr tail in error, got %q", err)
	}
}

func TestConvertCancelled(t *testing.T) {
	binary := writeFakeBinary(t, "sleep 30\n")
	converter := New(Options{BinaryPath: binary})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := converter.Convert(ctx, "input.mp4", t.TempDir())
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("expected interruption error, got %q", err)
	}
}

func TestConvertRequiresInput(t *testing.T) {
	converter := New(Options{})
	if err := converter.Convert(context.Background(), " ", t.TempDir()); err == nil {
		t.Fatal("expected error for empty input path")
	}
}

func TestTailWriterKeepsLastLines(t *testing.T) {
	tail := newTailWriter(2)
	if _, err := tail.Write([]byte("one\ntwo\nthree\nfour")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := tail.Lines()
	want := []string{"three", "four"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("unexpected tail %v, want %v", lines, want)
	}
}
