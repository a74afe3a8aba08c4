package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/store"
)

func TestChunkParagraphs(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := Chunk(text, 1000)
	require.Len(t, chunks, 1)
	require.Contains(t, chunks[0], "First paragraph.")
	require.Contains(t, chunks[0], "Third paragraph.")
}

func TestChunkRespectsMaxLen(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 30))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := Chunk(text, 400)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 400)
	}
}

func TestChunkOversizedParagraph(t *testing.T) {
	sentence := "This is a sentence. "
	text := strings.Repeat(sentence, 100)

	chunks := Chunk(text, 200)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(chunk), 200)
	}
}

func TestChunkEmpty(t *testing.T) {
	require.Empty(t, Chunk("", 100))
	require.Empty(t, Chunk("\n\n  \n\n", 100))
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return []float32{float32(len(text)), 1, 0}, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("backend unavailable")
}

type fakeFragmentStore struct {
	mu        sync.Mutex
	fragments []*store.Fragment
	nextID    int32
}

func (f *fakeFragmentStore) CreateFragment(_ context.Context, create *store.Fragment) (*store.Fragment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	create.ID = f.nextID
	f.fragments = append(f.fragments, create)
	return create, nil
}

func (f *fakeFragmentStore) ListFragments(_ context.Context, find *store.FindFragment) ([]*store.Fragment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := []*store.Fragment{}
	for _, fragment := range f.fragments {
		if find.Source != nil && fragment.Source != *find.Source {
			continue
		}
		list = append(list, fragment)
	}
	return list, nil
}

func (f *fakeFragmentStore) DeleteFragment(_ context.Context, delete *store.DeleteFragment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.fragments[:0]
	for _, fragment := range f.fragments {
		if delete.Source != nil && fragment.Source == *delete.Source {
			continue
		}
		kept = append(kept, fragment)
	}
	f.fragments = kept
	return nil
}

func TestIndexerIndexesChunks(t *testing.T) {
	fragmentStore := &fakeFragmentStore{}
	embedder := &fakeEmbedder{}
	indexer := NewIndexer(fragmentStore, embedder, 2)

	count, err := indexer.Index(context.Background(), "doc.md", "Paragraph one.\n\nParagraph two.")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, fragmentStore.fragments, 1)
	require.NotEmpty(t, fragmentStore.fragments[0].UID)
	require.NotEmpty(t, fragmentStore.fragments[0].Embedding)
}

func TestIndexerAssignsOrdinals(t *testing.T) {
	fragmentStore := &fakeFragmentStore{}
	indexer := NewIndexer(fragmentStore, &fakeEmbedder{}, 2)

	var paragraphs []string
	for i := 0; i < 30; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 30))
	}
	count, err := indexer.Index(context.Background(), "doc.md", strings.Join(paragraphs, "\n\n"))
	require.NoError(t, err)
	require.Greater(t, count, 1)

	require.Len(t, fragmentStore.fragments, count)
	for i, fragment := range fragmentStore.fragments {
		require.Equal(t, int32(i), fragment.Ordinal)
	}
}

func TestIndexerReindexReplaces(t *testing.T) {
	fragmentStore := &fakeFragmentStore{}
	indexer := NewIndexer(fragmentStore, &fakeEmbedder{}, 2)

	_, err := indexer.Index(context.Background(), "doc.md", "Old content here.")
	require.NoError(t, err)
	_, err = indexer.Index(context.Background(), "doc.md", "New content here.")
	require.NoError(t, err)

	require.Len(t, fragmentStore.fragments, 1)
	require.Equal(t, "New content here.", fragmentStore.fragments[0].Content)
}

func TestIndexerEmbedFailureLeavesIndexIntact(t *testing.T) {
	fragmentStore := &fakeFragmentStore{}
	indexer := NewIndexer(fragmentStore, &fakeEmbedder{}, 2)

	_, err := indexer.Index(context.Background(), "doc.md", "Existing content.")
	require.NoError(t, err)

	failing := NewIndexer(fragmentStore, failingEmbedder{}, 2)
	_, err = failing.Index(context.Background(), "doc.md", "Replacement content.")
	require.Error(t, err)

	require.Len(t, fragmentStore.fragments, 1)
	require.Equal(t, "Existing content.", fragmentStore.fragments[0].Content)
}

func TestIndexerSources(t *testing.T) {
	fragmentStore := &fakeFragmentStore{}
	indexer := NewIndexer(fragmentStore, &fakeEmbedder{}, 2)

	_, err := indexer.Index(context.Background(), "a.md", "Content A.")
	require.NoError(t, err)
	_, err = indexer.Index(context.Background(), "b.md", "Content B.")
	require.NoError(t, err)

	sources, err := indexer.Sources(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.md", "b.md"}, sources)
}
