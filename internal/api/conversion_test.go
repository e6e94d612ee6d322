package api

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"hlscast/internal/storage"
)

// emptyConverter exits cleanly without producing any output files.
type emptyConverter struct{}

func (emptyConverter) Convert(ctx context.Context, inputPath, outputDir string) error {
	return os.MkdirAll(outputDir, 0o755)
}

func seedStoredJob(t *testing.T, env *testEnv) string {
	t.Helper()
	job, err := env.store.CreateJob(storage.CreateJobParams{OriginalName: "clip.mp4"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	storedName := env.layout.StoredName("file", job.ID, ".mp4")
	if err := os.WriteFile(env.layout.StoredPath(storedName), []byte("data"), 0o644); err != nil {
		t.Fatalf("write stored file: %v", err)
	}
	if _, err := env.store.UpdateJob(job.ID, storage.JobUpdate{StoredName: &storedName}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	return job.ID
}

func TestRunUnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.service.Run(context.Background(), "missing"); !errors.Is(err, storage.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRunTerminalJobIsNoop(t *testing.T) {
	converter := &fakeConverter{}
	env := newTestEnv(t, converter)
	job := seedJob(t, env, "ready")

	got, err := env.service.Run(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != "ready" {
		t.Fatalf("unexpected status %q", got.Status)
	}
	if converter.calls != 0 {
		t.Fatalf("expected no conversion attempt, got %d", converter.calls)
	}
}

func TestRunFailsWithoutStoredUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	job := seedJob(t, env, "")

	if _, err := env.service.Run(context.Background(), job.ID); err == nil {
		t.Fatal("expected failure for job without a stored upload")
	}
	got, _ := env.store.GetJob(job.ID)
	if got.Status != "failed" {
		t.Fatalf("expected failed status, got %q", got.Status)
	}
}

func TestRunFailsWhenNoManifestProduced(t *testing.T) {
	env := newTestEnv(t, nil)
	env.service.converter = emptyConverter{}
	id := seedStoredJob(t, env)

	_, err := env.service.Run(context.Background(), id)
	if err == nil {
		t.Fatal("expected failure when no manifest is produced")
	}
	if !strings.Contains(err.Error(), "manifest") {
		t.Fatalf("unexpected error %q", err)
	}
	got, _ := env.store.GetJob(id)
	if got.Status != "failed" {
		t.Fatalf("expected failed status, got %q", got.Status)
	}
}

func TestRunMarksJobReady(t *testing.T) {
	env := newTestEnv(t, nil)
	id := seedStoredJob(t, env)

	job, err := env.service.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != "ready" {
		t.Fatalf("expected ready, got %q", job.Status)
	}
	if job.PlaybackPath != env.layout.PlaybackPath(id) {
		t.Fatalf("unexpected playback path %q", job.PlaybackPath)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completion time")
	}
}

func TestBeginWorkDeduplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	if !env.service.beginWork("job-1") {
		t.Fatal("expected first claim to succeed")
	}
	if env.service.beginWork("job-1") {
		t.Fatal("expected duplicate claim to fail")
	}
	env.service.finishWork("job-1")
	if !env.service.beginWork("job-1") {
		t.Fatal("expected claim to succeed after release")
	}
}

func TestStartRecoversPendingJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	id := seedStoredJob(t, env)

	env.service.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.service.Shutdown(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, _ := env.store.GetJob(id)
		if job.Status == "ready" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never recovered, status %q", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
