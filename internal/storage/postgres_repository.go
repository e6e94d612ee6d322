package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hlscast/internal/models"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    original_name TEXT NOT NULL,
    content_type  TEXT NOT NULL DEFAULT '',
    stored_name   TEXT NOT NULL DEFAULT '',
    size_bytes    BIGINT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    playback_path TEXT NOT NULL DEFAULT '',
    error         TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ
)`

const jobColumns = "id, original_name, content_type, stored_name, size_bytes, status, playback_path, error, created_at, updated_at, completed_at"

// postgresRepository persists job records in a jobs table. It is the driver
// behind -storage-driver postgres and provides the durable id-to-path mapping
// shared by every replica pointed at the same uploads volume.
type postgresRepository struct {
	pool  *pgxpool.Pool
	cfg   PostgresConfig
	clock func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// jobs table exists.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	cfg.normalize()
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, clock: cfg.Clock}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema() error {
	ctx, cancel := r.opContext()
	defer cancel()
	if _, err := r.pool.Exec(ctx, jobsSchema); err != nil {
		return fmt.Errorf("ensure jobs table: %w", err)
	}
	return nil
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.OpTimeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) CreateJob(params CreateJobParams) (models.Job, error) {
	now := r.clock()
	job := models.Job{
		ID:           newJobID(),
		OriginalName: params.OriginalName,
		ContentType:  params.ContentType,
		SizeBytes:    params.SizeBytes,
		Status:       models.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO jobs (id, original_name, content_type, stored_name, size_bytes, status, playback_path, error, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.OriginalName, job.ContentType, job.StoredName, job.SizeBytes,
		job.Status, job.PlaybackPath, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) GetJob(id string) (models.Job, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if err != nil {
		return models.Job{}, false
	}
	return job, true
}

func (r *postgresRepository) ListJobs() []models.Job {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC, id")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (r *postgresRepository) UpdateJob(id string, update JobUpdate) (models.Job, error) {
	assignments := make([]string, 0, 6)
	args := make([]any, 0, 7)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		assignments = append(assignments, "status = "+arg(*update.Status))
	}
	if update.StoredName != nil {
		assignments = append(assignments, "stored_name = "+arg(*update.StoredName))
	}
	if update.PlaybackPath != nil {
		assignments = append(assignments, "playback_path = "+arg(*update.PlaybackPath))
	}
	if update.Error != nil {
		assignments = append(assignments, "error = "+arg(*update.Error))
	}
	if update.CompletedAt != nil {
		assignments = append(assignments, "completed_at = "+arg(*update.CompletedAt))
	}
	assignments = append(assignments, "updated_at = "+arg(r.clock()))
	query := "UPDATE jobs SET " + strings.Join(assignments, ", ") +
		" WHERE id = " + arg(id) + " RETURNING " + jobColumns

	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) DeleteJob(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *postgresRepository) PurgeExpired(olderThan time.Duration) ([]models.Job, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	cutoff := r.clock().Add(-olderThan)

	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND updated_at < $3 RETURNING `+jobColumns,
		models.JobStatusReady, models.JobStatusFailed, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("purge jobs: %w", err)
	}
	defer rows.Close()

	var purged []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purged job: %w", err)
		}
		purged = append(purged, job)
	}
	return purged, rows.Err()
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var completedAt *time.Time
	err := row.Scan(
		&job.ID, &job.OriginalName, &job.ContentType, &job.StoredName,
		&job.SizeBytes, &job.Status, &job.PlaybackPath, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return models.Job{}, err
	}
	job.CompletedAt = completedAt
	return job, nil
}
