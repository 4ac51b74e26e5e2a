package retrieval

import (
	"context"
	"time"
)

// VectorStore is the nearest-neighbour index over resource chunks.
// The SQLite implementation scans brute force; the interface leaves room
// for an ANN-capable backend without touching retrieval logic.
type VectorStore interface {
	// Insert adds records. All records of one call are written atomically.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to topK records matching filter, most similar first.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// DeleteByResource removes every chunk derived from the given resource.
	DeleteByResource(ctx context.Context, resourceID string) error

	// Count returns the number of records owned by principalID.
	Count(ctx context.Context, principalID string) (int, error)
}

// Filter restricts a vector search. PrincipalID is mandatory. A nil
// ResourceIDs means any resource; a non-nil empty slice matches nothing.
type Filter struct {
	PrincipalID string
	ResourceIDs []string
}

// Record is one embedded chunk of a resource. PrincipalID always equals
// the owning resource's principal.
type Record struct {
	ID          string
	ResourceID  string
	PrincipalID string
	TextChunk   string
	Embedding   []float32
	CreatedAt   time.Time
}

// ScoredRecord is a Record with its cosine similarity to the query.
type ScoredRecord struct {
	Record
	Score float32
}
