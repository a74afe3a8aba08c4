package store

// Fragment is a chunk of indexed knowledge text with its embedding vector.
// Fragments are what the retriever searches to ground assistant answers.
// Ordinal is the chunk's position within its source document, so a
// re-indexed document can be reassembled in order.
type Fragment struct {
	ID        int32
	UID       string
	Source    string
	Ordinal   int32
	Content   string
	Embedding []float32
	CreatedTs int64
}

type FindFragment struct {
	ID     *int32
	UID    *string
	Source *string

	Limit  *int
	Offset *int
}

type DeleteFragment struct {
	ID     *int32
	Source *string
}
