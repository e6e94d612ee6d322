package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"hlscast/internal/models"
	"hlscast/internal/observability/metrics"
	"hlscast/internal/storage"
	"hlscast/internal/transcode"
)

// ErrConversionBusy signals that every conversion slot is taken and the
// caller should retry later.
var ErrConversionBusy = errors.New("all conversion slots are busy")

type ConversionConfig struct {
	Store     storage.Repository
	Layout    *storage.Layout
	Converter transcode.Converter
	Metrics   *metrics.Recorder

	// MaxConcurrent bounds simultaneous ffmpeg subprocesses across both the
	// synchronous and queued paths.
	MaxConcurrent int
	// AcquireTimeout is how long a synchronous upload waits for a slot before
	// the request is rejected with ErrConversionBusy.
	AcquireTimeout time.Duration
	// Timeout bounds a single ffmpeg run.
	Timeout time.Duration

	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// ConversionService turns stored uploads into HLS output. Synchronous
// requests call Run and block for the result; asynchronous requests call
// Enqueue and poll the job record. Both paths share one semaphore so the
// ffmpeg concurrency cap holds globally.
type ConversionService struct {
	store     storage.Repository
	layout    *storage.Layout
	converter transcode.Converter
	metrics   *metrics.Recorder

	slots          *semaphore.Weighted
	acquireTimeout time.Duration
	timeout        time.Duration

	workers int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultConversionWorkers   = 2
	defaultConversionQueueSize = 64
	defaultConversionTimeout   = 30 * time.Minute
	defaultMaxConcurrent       = 2
	defaultAcquireTimeout      = 5 * time.Second
)

func NewConversionService(cfg ConversionConfig) *ConversionService {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultConversionTimeout
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultConversionWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultConversionQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversionService{
		store:          cfg.Store,
		layout:         cfg.Layout,
		converter:      cfg.Converter,
		metrics:        recorder,
		slots:          semaphore.NewWeighted(int64(maxConcurrent)),
		acquireTimeout: acquireTimeout,
		timeout:        timeout,
		workers:        workers,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		queue:          make(chan string, queueSize),
		inFlight:       make(map[string]struct{}),
	}
}

// Start launches the queue workers and re-enqueues jobs interrupted by a
// previous shutdown.
func (s *ConversionService) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	go s.recoverPending()
}

// Shutdown stops the workers and waits for in-flight conversions to finish
// or ctx to expire.
func (s *ConversionService) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules a job for background conversion.
func (s *ConversionService) Enqueue(id string) {
	if s == nil || strings.TrimSpace(id) == "" {
		return
	}
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.queue <- id:
	case <-s.ctx.Done():
	}
}

// Run converts a job synchronously. It waits up to the acquire timeout for a
// conversion slot and returns ErrConversionBusy when none frees up, leaving
// the job pending so a later retry or the recovery pass can pick it up.
func (s *ConversionService) Run(ctx context.Context, id string) (models.Job, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	if err := s.slots.Acquire(acquireCtx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.ConversionRejected()
			return models.Job{}, ErrConversionBusy
		}
		return models.Job{}, err
	}
	defer s.slots.Release(1)

	return s.convert(ctx, id)
}

func (s *ConversionService) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !s.beginWork(id) {
				continue
			}
			s.processJob(id)
			s.finishWork(id)
		}
	}
}

func (s *ConversionService) beginWork(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inFlight[id]; exists {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *ConversionService) finishWork(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// recoverPending requeues jobs that were accepted but never finished.
func (s *ConversionService) recoverPending() {
	if s.store == nil {
		return
	}
	for _, job := range s.store.ListJobs() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if job.Terminal() || strings.TrimSpace(job.StoredName) == "" {
			continue
		}
		s.Enqueue(job.ID)
	}
}

func (s *ConversionService) processJob(id string) {
	if err := s.slots.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	if _, err := s.convert(s.ctx, id); err != nil {
		s.logger.Error("background conversion failed", "job_id", id, "error", err)
	}
}

// convert performs one conversion attempt and records the outcome on the job.
// The returned error mirrors the failure stored on the record so synchronous
// callers can surface it.
func (s *ConversionService) convert(ctx context.Context, id string) (models.Job, error) {
	job, ok := s.store.GetJob(id)
	if !ok {
		return models.Job{}, storage.ErrJobNotFound
	}
	if job.Terminal() {
		return job, nil
	}
	if strings.TrimSpace(job.StoredName) == "" {
		return s.failJob(id, fmt.Errorf("job has no stored upload"))
	}

	processing := models.JobStatusProcessing
	if _, err := s.store.UpdateJob(id, storage.JobUpdate{Status: &processing}); err != nil {
		return models.Job{}, fmt.Errorf("mark job processing: %w", err)
	}

	s.metrics.ConversionStarted()

	outputDir, err := s.layout.EnsureOutputDir(id)
	if err != nil {
		return s.failJob(id, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	if err := s.converter.Convert(runCtx, s.layout.StoredPath(job.StoredName), outputDir); err != nil {
		return s.failJob(id, err)
	}
	if _, err := os.Stat(s.layout.ManifestPath(id)); err != nil {
		return s.failJob(id, fmt.Errorf("conversion produced no manifest: %w", err))
	}

	ready := models.JobStatusReady
	playbackPath := s.layout.PlaybackPath(id)
	completedAt := time.Now().UTC()
	updated, err := s.store.UpdateJob(id, storage.JobUpdate{
		Status:       &ready,
		PlaybackPath: &playbackPath,
		Error:        stringPtr(""),
		CompletedAt:  &completedAt,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("mark job ready: %w", err)
	}

	s.metrics.ConversionCompleted()
	s.logger.Info("conversion complete",
		"job_id", id,
		"duration_ms", time.Since(started).Milliseconds(),
		"playback_path", playbackPath,
	)
	return updated, nil
}

func (s *ConversionService) failJob(id string, cause error) (models.Job, error) {
	s.metrics.ConversionFailed()
	failed := models.JobStatusFailed
	message := cause.Error()
	updated, err := s.store.UpdateJob(id, storage.JobUpdate{
		Status: &failed,
		Error:  &message,
	})
	if err != nil {
		s.logger.Error("failed to record conversion failure", "job_id", id, "error", err)
		return models.Job{}, cause
	}
	s.logger.Error("conversion failed", "job_id", id, "error", cause)
	return updated, cause
}

func stringPtr(value string) *string {
	return &value
}
