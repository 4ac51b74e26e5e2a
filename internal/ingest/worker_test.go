package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/bizchat/internal/engine"
	"github.com/kalambet/bizchat/internal/retrieval"
	"github.com/kalambet/bizchat/internal/storage"
)

type mockIndexer struct {
	mu      sync.Mutex
	indexed []storage.Resource
	indexFn func(ctx context.Context, r storage.Resource) (int, error)
}

func (m *mockIndexer) Index(ctx context.Context, r storage.Resource) (int, error) {
	if m.indexFn != nil {
		if n, err := m.indexFn(ctx, r); err != nil {
			return n, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = append(m.indexed, r)
	return 1, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// enqueueTestJob saves a resource and queues its index job, returning the job ID.
func enqueueTestJob(t *testing.T, store *storage.Store, content string) (storage.Resource, string) {
	t.Helper()
	res, err := store.SaveResource(context.Background(), storage.Resource{PrincipalID: "u1", Title: "Test", Content: content})
	if err != nil {
		t.Fatalf("SaveResource: %v", err)
	}
	job, err := NewIndexJob(res.ID)
	if err != nil {
		t.Fatalf("NewIndexJob: %v", err)
	}
	if err := store.EnqueueJob(context.Background(), job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return res, job.ID
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	status, attempts, err := store.JobStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	return status, attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	res, jobID := enqueueTestJob(t, store, "Hello world, this is a resource.")

	idx := &mockIndexer{}
	w := NewWorker(store, idx, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if len(idx.indexed) != 1 || idx.indexed[0].ID != res.ID {
		t.Fatalf("indexed = %+v", idx.indexed)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}

	didWork, _ = w.RunOnce(context.Background())
	if didWork {
		t.Error("RunOnce on an empty queue returned true")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	_, jobID := enqueueTestJob(t, store, "retry content for the worker")

	var calls atomic.Int32
	w := NewWorker(store, &mockIndexer{
		indexFn: func(context.Context, storage.Resource) (int, error) {
			if n := calls.Add(1); n <= 2 {
				return 0, fmt.Errorf("transient error %d", n)
			}
			return 0, nil
		},
	}, 0)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", i, didWork, err)
		}
		status, attempts := jobStatus(t, store, jobID)
		if status != "pending" || attempts != i {
			t.Errorf("after fail %d: status=%q attempts=%d, want pending/%d", i, status, attempts, i)
		}
		resetRunAfter(t, store, jobID)
	}

	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	_, jobID := enqueueTestJob(t, store, "max retry content for the worker")

	w := NewWorker(store, &mockIndexer{
		indexFn: func(context.Context, storage.Resource) (int, error) {
			return 0, fmt.Errorf("permanent error")
		},
	}, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", i, didWork, err)
		}
		if i < 3 {
			resetRunAfter(t, store, jobID)
		}
	}
	if status, _ := jobStatus(t, store, jobID); status != "failed" {
		t.Errorf("final status = %q, want failed", status)
	}
}

func TestWorker_DeletedOrEmptyResourceCompletes(t *testing.T) {
	store := openTestStore(t)
	res, deletedJob := enqueueTestJob(t, store, "about to be deleted before indexing")
	if err := store.DeleteResource(context.Background(), res.ID, "u1"); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	_, emptyJob := enqueueTestJob(t, store, "tiny")

	w := NewWorker(store, &mockIndexer{
		indexFn: func(context.Context, storage.Resource) (int, error) {
			return 0, retrieval.ErrEmptyResource
		},
	}, 0)
	for i := 0; i < 2; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	for _, id := range []string{deletedJob, emptyJob} {
		if status, _ := jobStatus(t, store, id); status != "completed" {
			t.Errorf("job %s status = %q, want completed", id, status)
		}
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				res, err := store.SaveResource(context.Background(), storage.Resource{
					PrincipalID: "u1",
					Content:     fmt.Sprintf("content number %d-%d for the queue", g, j),
				})
				if err != nil {
					t.Errorf("SaveResource: %v", err)
					return
				}
				job, _ := NewIndexJob(res.ID)
				if err := store.EnqueueJob(context.Background(), job); err != nil {
					t.Errorf("EnqueueJob %s: %v", res.ID, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	idx := &mockIndexer{}
	w := NewWorker(store, idx, 0)

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}

	seen := make(map[string]bool)
	for _, r := range idx.indexed {
		seen[r.ID] = true
	}
	if len(seen) != total {
		t.Errorf("indexed %d distinct resources, want %d", len(seen), total)
	}
}

// fixedEngine embeds every text to the same vector.
type fixedEngine struct{}

func (fixedEngine) Chat(context.Context, string, []engine.Message, *engine.Schema) (string, error) {
	return "", nil
}
func (fixedEngine) Embed(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fixedEngine) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fixedEngine) IsRunning(context.Context) bool        { return true }
func (fixedEngine) HasModel(context.Context, string) bool { return true }
func (fixedEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func TestWorker_IndexesIntoVectorStore(t *testing.T) {
	store := openTestStore(t)
	res, _ := enqueueTestJob(t, store, "Our office is in Berlin. We work with clients across Europe.")

	vectors := retrieval.NewSQLiteStore(store.DB())
	w := NewWorker(store, retrieval.NewIndexer(retrieval.NewEmbedder(fixedEngine{}, "embed"), vectors), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	hits, err := vectors.Search(context.Background(), []float32{1, 0}, 10, retrieval.Filter{PrincipalID: "u1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d chunks, want both sentences packed into 1", len(hits))
	}
	for _, h := range hits {
		if h.ResourceID != res.ID {
			t.Errorf("chunk resource = %q, want %q", h.ResourceID, res.ID)
		}
	}
}
