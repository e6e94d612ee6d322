package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"hlscast/internal/models"
)

type dataset struct {
	Jobs map[string]models.Job `json:"jobs"`
}

func newDataset() dataset {
	return dataset{Jobs: make(map[string]models.Job)}
}

// Storage is the default JSON-snapshot job store. Every mutation rewrites the
// snapshot atomically (temp file + rename), so a crash never leaves a
// half-written datastore behind.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	clock           func() time.Time
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithClock overrides the time source, primarily for retention tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Storage) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStorage loads (or initialises) the JSON snapshot at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var data dataset
	if err := decoder.Decode(&data); err != nil {
		return fmt.Errorf("decode store file: %w", err)
	}
	if data.Jobs == nil {
		data.Jobs = make(map[string]models.Job)
	}
	s.data = data
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, job := range src.Jobs {
		clone.Jobs[id] = cloneJob(job)
	}
	return clone
}

func cloneJob(job models.Job) models.Job {
	cloned := job
	if job.CompletedAt != nil {
		completed := *job.CompletedAt
		cloned.CompletedAt = &completed
	}
	return cloned
}

// Ping reports datastore health. The JSON store only checks that the
// snapshot's directory is still reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

// CreateJob assigns a fresh id and records a pending job.
func (s *Storage) CreateJob(params CreateJobParams) (models.Job, error) {
	now := s.clock()
	job := models.Job{
		ID:           newJobID(),
		OriginalName: params.OriginalName,
		ContentType:  params.ContentType,
		SizeBytes:    params.SizeBytes,
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	updated.Jobs[job.ID] = job
	if err := s.persistDataset(updated); err != nil {
		return models.Job{}, err
	}
	s.data = updated
	return job, nil
}

// GetJob returns the job with the provided id.
func (s *Storage) GetJob(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return cloneJob(job), true
}

// ListJobs returns all jobs ordered newest first.
func (s *Storage) ListJobs() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]models.Job, 0, len(s.data.Jobs))
	for _, job := range s.data.Jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// UpdateJob applies the non-nil fields of update to the job record.
func (s *Storage) UpdateJob(id string, update JobUpdate) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	job, ok := updated.Jobs[id]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	applyJobUpdate(&job, update)
	job.UpdatedAt = s.clock()
	updated.Jobs[id] = job

	if err := s.persistDataset(updated); err != nil {
		return models.Job{}, err
	}
	s.data = updated
	return cloneJob(job), nil
}

// DeleteJob removes the job record. Filesystem artifacts are the caller's
// responsibility.
func (s *Storage) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	if _, ok := updated.Jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(updated.Jobs, id)

	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// PurgeExpired removes terminal jobs last touched before now-olderThan and
// returns them.
func (s *Storage) PurgeExpired(olderThan time.Duration) ([]models.Job, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	cutoff := s.clock().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []models.Job
	updated := cloneDataset(s.data)
	for id, job := range updated.Jobs {
		if job.Terminal() && job.UpdatedAt.Before(cutoff) {
			purged = append(purged, cloneJob(job))
			delete(updated.Jobs, id)
		}
	}
	if len(purged) == 0 {
		return nil, nil
	}

	if err := s.persistDataset(updated); err != nil {
		return nil, err
	}
	s.data = updated
	sort.Slice(purged, func(i, j int) bool { return purged[i].ID < purged[j].ID })
	return purged, nil
}

// Close is a no-op for the JSON store; the snapshot is already durable.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func applyJobUpdate(job *models.Job, update JobUpdate) {
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.StoredName != nil {
		job.StoredName = *update.StoredName
	}
	if update.PlaybackPath != nil {
		job.PlaybackPath = *update.PlaybackPath
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	if update.CompletedAt != nil {
		completed := *update.CompletedAt
		job.CompletedAt = &completed
	}
}
