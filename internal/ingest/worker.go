package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/bizchat/internal/retrieval"
	"github.com/kalambet/bizchat/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetResource(ctx context.Context, id string) (storage.Resource, error)
}

// ResourceIndexer chunks and embeds a resource into the vector store.
type ResourceIndexer interface {
	Index(ctx context.Context, r storage.Resource) (int, error)
}

// IndexPayload is the payload of a storage.JobIndexResource job.
type IndexPayload struct {
	ResourceID string `json:"resource_id"`
}

// NewIndexJob builds the job that indexes resourceID in the background.
func NewIndexJob(resourceID string) (storage.Job, error) {
	payload, err := json.Marshal(IndexPayload{ResourceID: resourceID})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobIndexResource,
		PayloadJSON: string(payload),
	}, nil
}

// Worker processes index_resource jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	indexer ResourceIndexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer ResourceIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_resource job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{storage.JobIndexResource})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload IndexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	res, err := w.store.GetResource(ctx, payload.ResourceID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted before it was indexed.
		w.logger.Debug("skipping index of missing resource", "resource_id", payload.ResourceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading resource %s: %w", payload.ResourceID, err)
	}

	n, err := w.indexer.Index(ctx, res)
	if errors.Is(err, retrieval.ErrEmptyResource) {
		w.logger.Info("resource has nothing to index", "resource_id", res.ID)
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.Debug("indexed resource", "resource_id", res.ID, "chunks", n)
	return nil
}
