package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/store"
)

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("backend down")
	}
	return []float32{1, 0, 0}, nil
}

type fakeSearchStore struct {
	fragments []*store.Fragment
	scores    []float32
	gotLimit  int
}

func (f *fakeSearchStore) SearchFragmentsByVector(_ context.Context, _ []float32, limit int) ([]*store.Fragment, []float32, error) {
	f.gotLimit = limit
	return f.fragments, f.scores, nil
}

func TestRetrieve(t *testing.T) {
	searchStore := &fakeSearchStore{
		fragments: []*store.Fragment{
			{ID: 1, Source: "a.md", Content: "alpha"},
			{ID: 2, Source: "b.md", Content: "beta"},
		},
		scores: []float32{0.9, 0.5},
	}
	retriever := New(searchStore, &fakeEmbedder{}, 2)

	passages, err := retriever.Retrieve(context.Background(), "what is alpha")
	require.NoError(t, err)
	require.Len(t, passages, 2)
	require.Equal(t, "alpha", passages[0].Content)
	require.InDelta(t, 0.9, passages[0].Score, 0.001)
	require.Equal(t, 2, searchStore.gotLimit)
}

func TestRetrieveDegradesOnEmbedFailure(t *testing.T) {
	searchStore := &fakeSearchStore{}
	retriever := New(searchStore, &fakeEmbedder{fail: true}, 3)

	passages, err := retriever.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	require.Nil(t, passages)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	retriever := New(&fakeSearchStore{}, &fakeEmbedder{}, 3)
	passages, err := retriever.Retrieve(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, passages)
}
