package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tamgam/diya/internal/model"
)

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the persistence surface the retriever needs.
type Store interface {
	ListEmbeddedChunks(classIDs []string) ([]model.TranscriptChunk, map[string]time.Time, error)
}

// Retriever answers similarity queries over the chunks of an allowed set
// of classes.
type Retriever struct {
	store    Store
	embedder Embedder
	topK     int
	minScore float64 // confidence floor; results below it are discarded
}

func New(store Store, embedder Embedder, topK int, minScore float64) *Retriever {
	return &Retriever{store: store, embedder: embedder, topK: topK, minScore: minScore}
}

// cosine returns the cosine similarity of two vectors, or 0 when either
// is empty, mismatched, or zero-length in magnitude.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Search embeds the query and returns up to topK chunks from the allowed
// classes scoring at or above the confidence floor, best first. An empty
// result means the answer should not be grounded. Only classIDs is ever
// searched; an empty allowed set short-circuits without touching the
// backend.
func (r *Retriever) Search(ctx context.Context, query string, classIDs []string) ([]model.RetrievedChunk, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected one query vector, got %d", len(vectors))
	}
	queryVec := vectors[0]

	chunks, indexedAt, err := r.store.ListEmbeddedChunks(classIDs)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	scored := make([]model.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		score := cosine(queryVec, c.Embedding)
		if score < r.minScore {
			continue
		}
		scored = append(scored, model.RetrievedChunk{Chunk: c, Score: score})
	}

	// Ties on score go to the most recently indexed class, then to
	// transcript order.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ti, tj := indexedAt[scored[i].Chunk.ClassID], indexedAt[scored[j].Chunk.ClassID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return scored[i].Chunk.Ordinal < scored[j].Chunk.Ordinal
	})

	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	return scored, nil
}
