package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/parleyhq/parley/store"
)

func (d *DB) CreateFragment(ctx context.Context, create *store.Fragment) (*store.Fragment, error) {
	fields := []string{"uid", "source", "ordinal", "content", "embedding"}
	args := []any{create.UID, create.Source, create.Ordinal, create.Content, pgvector.NewVector(create.Embedding)}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		args = append(args, create.CreatedTs)
	}

	stmt := `INSERT INTO fragment (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create fragment: %w", err)
	}

	return create, nil
}

func (d *DB) ListFragments(ctx context.Context, find *store.FindFragment) ([]*store.Fragment, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.Source != nil {
		where, args = append(where, "source = "+placeholder(len(args)+1)), append(args, *find.Source)
	}

	query := `SELECT id, uid, source, ordinal, content, embedding, created_ts FROM fragment WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fragments: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Fragment, 0)
	for rows.Next() {
		fragment := &store.Fragment{}
		var vector pgvector.Vector
		if err := rows.Scan(
			&fragment.ID,
			&fragment.UID,
			&fragment.Source,
			&fragment.Ordinal,
			&fragment.Content,
			&vector,
			&fragment.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		fragment.Embedding = vector.Slice()
		list = append(list, fragment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fragments: %w", err)
	}

	return list, nil
}

func (d *DB) DeleteFragment(ctx context.Context, delete *store.DeleteFragment) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.Source != nil {
		where, args = append(where, "source = "+placeholder(len(args)+1)), append(args, *delete.Source)
	}

	if len(where) == 0 {
		return fmt.Errorf("no condition to delete")
	}

	stmt := `DELETE FROM fragment WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete fragment: %w", err)
	}

	return nil
}

// SearchFragmentsByVector performs cosine similarity search using pgvector.
// The <=> operator computes cosine distance (1 - cosine_similarity).
func (d *DB) SearchFragmentsByVector(ctx context.Context, embedding []float32, limit int) ([]*store.Fragment, []float32, error) {
	vector := pgvector.NewVector(embedding)
	query := `
		SELECT
			id, uid, source, ordinal, content, created_ts,
			1 - (embedding <=> $1) AS score
		FROM fragment
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := d.db.QueryContext(ctx, query, vector, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to search fragments by vector: %w", err)
	}
	defer rows.Close()

	fragments := make([]*store.Fragment, 0)
	scores := make([]float32, 0)
	for rows.Next() {
		fragment := &store.Fragment{}
		var score float32
		if err := rows.Scan(
			&fragment.ID,
			&fragment.UID,
			&fragment.Source,
			&fragment.Ordinal,
			&fragment.Content,
			&fragment.CreatedTs,
			&score,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		fragments = append(fragments, fragment)
		scores = append(scores, score)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate fragments: %w", err)
	}

	return fragments, scores, nil
}
