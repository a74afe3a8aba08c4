package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/parleyhq/parley/store"
)

func (d *DB) CreateFragment(ctx context.Context, create *store.Fragment) (*store.Fragment, error) {
	embedding, err := json.Marshal(create.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	fields := []string{"uid", "source", "ordinal", "content", "embedding"}
	args := []any{create.UID, create.Source, create.Ordinal, create.Content, string(embedding)}

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
		var embedding string
		if err := rows.Scan(
			&fragment.ID,
			&fragment.UID,
			&fragment.Source,
			&fragment.Ordinal,
			&fragment.Content,
			&embedding,
			&fragment.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		if embedding != "" {
			if err := json.Unmarshal([]byte(embedding), &fragment.Embedding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
			}
		}
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

// SearchFragmentsByVector loads every fragment and ranks by cosine
// similarity in Go. SQLite has no vector extension here, so a linear scan
// is the tradeoff for a dependency-free dev setup. Ties keep insertion
// order because sorting is stable over the id-ordered list.
func (d *DB) SearchFragmentsByVector(ctx context.Context, embedding []float32, limit int) ([]*store.Fragment, []float32, error) {
	fragments, err := d.ListFragments(ctx, &store.FindFragment{})
	if err != nil {
		return nil, nil, err
	}

	type scored struct {
		fragment *store.Fragment
		score    float32
	}
	ranked := make([]scored, 0, len(fragments))
	for _, fragment := range fragments {
		if len(fragment.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{fragment: fragment, score: cosineSimilarity(embedding, fragment.Embedding)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	result := make([]*store.Fragment, 0, len(ranked))
	scores := make([]float32, 0, len(ranked))
	for _, r := range ranked {
		result = append(result, r.fragment)
		scores = append(scores, r.score)
	}
	return result, scores, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
