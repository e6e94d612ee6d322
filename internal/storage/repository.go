// Package storage persists conversion job records and owns the on-disk
// layout of uploaded sources and their HLS output trees.
package storage

import (
	"context"
	"errors"
	"time"

	"hlscast/internal/models"
)

// ErrJobNotFound is returned when a job id does not resolve to a record.
var ErrJobNotFound = errors.New("job not found")

// Repository exposes the job datastore operations required by the API
// handlers and the conversion service. Implementations must be safe for
// concurrent use.
type Repository interface {
	Ping(ctx context.Context) error

	CreateJob(params CreateJobParams) (models.Job, error)
	GetJob(id string) (models.Job, bool)
	ListJobs() []models.Job
	UpdateJob(id string, update JobUpdate) (models.Job, error)
	DeleteJob(id string) error

	// PurgeExpired deletes terminal jobs whose last update is older than the
	// provided age and returns the removed records so the caller can clean
	// their filesystem artifacts.
	PurgeExpired(olderThan time.Duration) ([]models.Job, error)

	Close(ctx context.Context) error
}

// CreateJobParams captures the immutable facts recorded when an upload is
// accepted. The repository assigns the job id.
type CreateJobParams struct {
	OriginalName string
	ContentType  string
	SizeBytes    int64
}

// JobUpdate mutates a job record. Nil fields are left untouched.
type JobUpdate struct {
	Status       *string
	StoredName   *string
	PlaybackPath *string
	Error        *string
	CompletedAt  *time.Time
}
