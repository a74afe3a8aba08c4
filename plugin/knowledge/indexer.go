// Package knowledge chunks documents and maintains their fragment index so
// the retriever has something to search.
package knowledge

import (
	"context"
	"log/slog"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/parleyhq/parley/store"
)

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FragmentStore is the slice of the store the indexer needs.
type FragmentStore interface {
	CreateFragment(ctx context.Context, create *store.Fragment) (*store.Fragment, error)
	ListFragments(ctx context.Context, find *store.FindFragment) ([]*store.Fragment, error)
	DeleteFragment(ctx context.Context, delete *store.DeleteFragment) error
}

// Indexer turns documents into embedded fragments. Embedding calls are
// bounded by a semaphore so a large document cannot flood the backend.
type Indexer struct {
	store     FragmentStore
	embedder  Embedder
	chunkSize int
	sem       *semaphore.Weighted
}

// NewIndexer creates an indexer allowing maxConcurrent in-flight embedding
// requests.
func NewIndexer(fragmentStore FragmentStore, embedder Embedder, maxConcurrent int64) *Indexer {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Indexer{
		store:     fragmentStore,
		embedder:  embedder,
		chunkSize: defaultChunkSize,
		sem:       semaphore.NewWeighted(maxConcurrent),
	}
}

// Index replaces the fragments of a source with freshly chunked and
// embedded content. Reindexing the same source is therefore idempotent.
func (i *Indexer) Index(ctx context.Context, source, text string) (int, error) {
	chunks := Chunk(text, i.chunkSize)
	if len(chunks) == 0 {
		return 0, errors.New("document has no indexable content")
	}

	// Embed everything before touching the store, so a failed embedding run
	// leaves the existing index intact.
	embeddings := make([][]float32, len(chunks))
	group, groupCtx := errgroup.WithContext(ctx)
	for idx, chunk := range chunks {
		idx, chunk := idx, chunk
		group.Go(func() error {
			if err := i.sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer i.sem.Release(1)

			embedding, err := i.embedder.Embed(groupCtx, chunk)
			if err != nil {
				return errors.Wrapf(err, "failed to embed chunk %d", idx)
			}
			embeddings[idx] = embedding
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}

	if err := i.store.DeleteFragment(ctx, &store.DeleteFragment{Source: &source}); err != nil {
		return 0, errors.Wrap(err, "failed to clear existing fragments")
	}

	for idx, chunk := range chunks {
		if _, err := i.store.CreateFragment(ctx, &store.Fragment{
			UID:       shortuuid.New(),
			Source:    source,
			Ordinal:   int32(idx),
			Content:   chunk,
			Embedding: embeddings[idx],
		}); err != nil {
			return idx, errors.Wrapf(err, "failed to store fragment %d", idx)
		}
	}

	slog.Info("indexed document", slog.String("source", source), slog.Int("fragments", len(chunks)))
	return len(chunks), nil
}

// Remove deletes all fragments for a source.
func (i *Indexer) Remove(ctx context.Context, source string) error {
	return i.store.DeleteFragment(ctx, &store.DeleteFragment{Source: &source})
}

// Sources lists the distinct sources currently indexed.
func (i *Indexer) Sources(ctx context.Context) ([]string, error) {
	fragments, err := i.store.ListFragments(ctx, &store.FindFragment{})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	sources := []string{}
	for _, fragment := range fragments {
		if !seen[fragment.Source] {
			seen[fragment.Source] = true
			sources = append(sources, fragment.Source)
		}
	}
	return sources, nil
}
