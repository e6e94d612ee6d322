package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hlscast/internal/models"
)

// jobPurger removes terminal job records older than the retention period and
// returns them so their artifacts can be cleaned up.
type jobPurger interface {
	PurgeExpired(olderThan time.Duration) ([]models.Job, error)
}

// artifactRemover deletes a job's stored upload and output tree.
type artifactRemover interface {
	RemoveArtifacts(storedName, jobID string) error
}

type cleanupTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) cleanupTicker

func startCleanupWorker(ctx context.Context, logger *slog.Logger, store jobPurger, artifacts artifactRemover, retention, interval time.Duration) func() {
	return startCleanupWorkerWithTicker(ctx, logger, store, artifacts, retention, interval, func(d time.Duration) cleanupTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startCleanupWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store jobPurger,
	artifacts artifactRemover,
	retention time.Duration,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if store == nil || retention <= 0 || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				runCleanup(logger, store, artifacts, retention)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func runCleanup(logger *slog.Logger, store jobPurger, artifacts artifactRemover, retention time.Duration) {
	purged, err := store.PurgeExpired(retention)
	if err != nil {
		if logger != nil {
			logger.Error("failed to purge expired jobs", "error", err)
		}
		return
	}
	for _, job := range purged {
		if artifacts == nil {
			continue
		}
		if err := artifacts.RemoveArtifacts(job.StoredName, job.ID); err != nil && logger != nil {
			logger.Error("failed to remove job artifacts", "job_id", job.ID, "error", err)
		}
	}
	if len(purged) > 0 && logger != nil {
		logger.Info("purged expired jobs", "count", len(purged))
	}
}
