package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tamgam/diya/internal/model"
)

// Embedder produces embedding vectors, one per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the persistence surface the indexer needs.
type Store interface {
	GetClass(id string) (*model.Class, error)
	ReplaceChunks(classID string, chunks []model.TranscriptChunk) ([]int64, error)
	EmbeddingStats(classID string) (model.EmbeddingStats, error)
}

// PartialFailureError reports an index run where some chunks could not be
// embedded. The run still committed: failed chunks are stored without a
// vector and are excluded from retrieval until re-indexed.
type PartialFailureError struct {
	ClassID string
	Failed  int
	Total   int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("class %s: %d of %d chunks failed to embed", e.ClassID, e.Failed, e.Total)
}

const embedBatchSize = 16

// Indexer turns class transcripts into embedded chunks.
type Indexer struct {
	store    Store
	embedder Embedder
	limiter  *rate.Limiter
	cfg      model.EngineConfig

	mu      sync.Mutex
	inFlight map[string]*sync.Mutex
}

// New creates an indexer. embedRPS bounds embedding calls per second
// across all classes.
func New(store Store, embedder Embedder, cfg model.EngineConfig, embedRPS float64) *Indexer {
	if embedRPS <= 0 {
		embedRPS = 2
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Limit(embedRPS), 1),
		cfg:      cfg,
		inFlight: make(map[string]*sync.Mutex),
	}
}

// classLock serializes index runs per class so two concurrent re-indexes
// of the same transcript cannot interleave.
func (ix *Indexer) classLock(classID string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	l, ok := ix.inFlight[classID]
	if !ok {
		l = &sync.Mutex{}
		ix.inFlight[classID] = l
	}
	return l
}

// IndexClass chunks and embeds a transcript, then atomically replaces the
// class's stored chunk set. Re-running with the same transcript yields an
// equivalent index. Returns the resulting coverage stats; the error is a
// *PartialFailureError when some chunks stayed unembedded.
func (ix *Indexer) IndexClass(ctx context.Context, classID, transcript string) (model.EmbeddingStats, error) {
	lock := ix.classLock(classID)
	lock.Lock()
	defer lock.Unlock()

	class, err := ix.store.GetClass(classID)
	if err != nil {
		return model.EmbeddingStats{}, err
	}
	if class == nil {
		return model.EmbeddingStats{}, fmt.Errorf("unknown class %q", classID)
	}

	texts := Chunk(transcript, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	if len(texts) == 0 {
		return model.EmbeddingStats{}, fmt.Errorf("class %s: transcript is empty", classID)
	}

	chunks := make([]model.TranscriptChunk, len(texts))
	for i, text := range texts {
		chunks[i] = model.TranscriptChunk{
			ClassID:   classID,
			SubjectID: class.SubjectID,
			Ordinal:   i,
			Text:      text,
			TokenCnt:  wordCount(text),
		}
	}

	failed := ix.embedAll(ctx, chunks)
	if ctx.Err() != nil {
		// Do not commit a half-embedded index on cancellation.
		return model.EmbeddingStats{}, ctx.Err()
	}

	if _, err := ix.store.ReplaceChunks(classID, chunks); err != nil {
		return model.EmbeddingStats{}, fmt.Errorf("store chunks: %w", err)
	}

	stats, err := ix.store.EmbeddingStats(classID)
	if err != nil {
		return stats, err
	}
	slog.Info("indexed class",
		"class_id", classID,
		"chunks", stats.TotalChunks,
		"embedded", stats.EmbeddedChunks,
		"failed", stats.FailedChunks)

	if failed > 0 {
		return stats, &PartialFailureError{ClassID: classID, Failed: failed, Total: len(chunks)}
	}
	return stats, nil
}

// embedAll fills in chunk embeddings batch by batch, falling back to
// per-chunk calls when a whole batch fails so one bad input cannot sink
// its neighbors. Returns the number of chunks left unembedded.
func (ix *Indexer) embedAll(ctx context.Context, chunks []model.TranscriptChunk) int {
	failed := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		if err := ix.limiter.Wait(ctx); err != nil {
			return failed + len(chunks) - start
		}
		vectors, err := ix.embedder.Embed(ctx, texts)
		if err == nil {
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			continue
		}
		slog.Warn("embedding batch failed, retrying per chunk", "error", err, "batch_start", start)

		for i := range batch {
			if err := ix.limiter.Wait(ctx); err != nil {
				failed += len(batch) - i
				break
			}
			vecs, err := ix.embedder.Embed(ctx, []string{batch[i].Text})
			if err != nil || len(vecs) != 1 {
				slog.Warn("chunk failed to embed", "ordinal", batch[i].Ordinal, "error", err)
				failed++
				continue
			}
			batch[i].Embedding = vecs[0]
		}
	}
	return failed
}
