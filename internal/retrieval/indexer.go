package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/bizchat/internal/storage"
)

// ErrEmptyResource is returned when a resource has no indexable text.
var ErrEmptyResource = errors.New("resource has no content")

// Indexer turns resources into embedded chunks.
type Indexer struct {
	embedder *Embedder
	store    VectorStore
}

func NewIndexer(embedder *Embedder, store VectorStore) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// Index chunks and embeds res and stores one record per chunk, each owned
// by the resource's principal. It returns the number of chunks written.
func (ix *Indexer) Index(ctx context.Context, res storage.Resource) (int, error) {
	chunks := Chunk(res.Content)
	if len(chunks) == 0 {
		return 0, ErrEmptyResource
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding resource %s: %w", res.ID, err)
	}

	now := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = Record{
			ID:          uuid.New().String(),
			ResourceID:  res.ID,
			PrincipalID: res.PrincipalID,
			TextChunk:   chunk,
			Embedding:   vecs[i],
			CreatedAt:   now,
		}
	}

	if err := ix.store.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("storing chunks of %s: %w", res.ID, err)
	}
	return len(records), nil
}
