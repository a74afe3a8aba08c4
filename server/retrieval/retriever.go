// Package retrieval finds knowledge fragments relevant to a user message so
// the orchestrator can ground the prompt before generation.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/parleyhq/parley/store"
)

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchStore is the slice of the store the retriever needs.
type SearchStore interface {
	SearchFragmentsByVector(ctx context.Context, embedding []float32, limit int) ([]*store.Fragment, []float32, error)
}

// Passage is a retrieved fragment with its similarity score.
type Passage struct {
	Source  string
	Content string
	Score   float32
}

// Retriever embeds a query and ranks fragments by vector similarity.
type Retriever struct {
	store    SearchStore
	embedder Embedder
	topK     int
}

// New creates a retriever returning at most topK passages.
func New(searchStore SearchStore, embedder Embedder, topK int) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{
		store:    searchStore,
		embedder: embedder,
		topK:     topK,
	}
}

// Retrieve returns the most similar passages for the query. A failed
// embedding call degrades to no grounding instead of failing the turn; the
// assistant still answers, just without retrieved context.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	if r.embedder == nil || query == "" {
		return nil, nil
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, answering without grounding", slog.String("error", err.Error()))
		return nil, nil
	}

	fragments, scores, err := r.store.SearchFragmentsByVector(ctx, embedding, r.topK)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, len(fragments))
	for i, fragment := range fragments {
		var score float32
		if i < len(scores) {
			score = scores[i]
		}
		passages = append(passages, Passage{
			Source:  fragment.Source,
			Content: fragment.Content,
			Score:   score,
		})
	}
	return passages, nil
}
