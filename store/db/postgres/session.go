package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/store"
)

func (d *DB) CreateChatSession(ctx context.Context, create *store.ChatSession) (*store.ChatSession, error) {
	fields := []string{"uid", "principal", "title", "pinned"}
	args := []any{create.UID, create.Principal, create.Title, create.Pinned}

	if create.Mode != "" {
		fields = append(fields, "mode")
		args = append(args, create.Mode)
	}
	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		args = append(args, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields = append(fields, "updated_ts")
		args = append(args, create.UpdatedTs)
	}

	stmt := `INSERT INTO chat_session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, mode, created_ts, updated_ts, row_status`

	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.Mode,
		&create.CreatedTs,
		&create.UpdatedTs,
		&create.RowStatus,
	); err != nil {
		return nil, fmt.Errorf("failed to create chat_session: %w", err)
	}

	return create, nil
}

func (d *DB) ListChatSessions(ctx context.Context, find *store.FindChatSession) ([]*store.ChatSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.Principal != nil {
		where, args = append(where, "principal = "+placeholder(len(args)+1)), append(args, *find.Principal)
	}
	if find.Pinned != nil {
		where, args = append(where, "pinned = "+placeholder(len(args)+1)), append(args, *find.Pinned)
	}
	if find.RowStatus != nil {
		where, args = append(where, "row_status = "+placeholder(len(args)+1)), append(args, find.RowStatus.String())
	}
	if find.TitleQuery != nil {
		where, args = append(where, "title ILIKE "+placeholder(len(args)+1)), append(args, "%"+*find.TitleQuery+"%")
	}
	if find.UpdatedTsBefore != nil {
		where, args = append(where, "updated_ts < "+placeholder(len(args)+1)), append(args, *find.UpdatedTsBefore)
	}

	query := `SELECT id, uid, principal, mode, title, pinned, created_ts, updated_ts, row_status FROM chat_session WHERE ` + strings.Join(where, " AND ") + ` ORDER BY pinned DESC, updated_ts DESC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat_sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ChatSession, 0)
	for rows.Next() {
		session := &store.ChatSession{}
		if err := rows.Scan(
			&session.ID,
			&session.UID,
			&session.Principal,
			&session.Mode,
			&session.Title,
			&session.Pinned,
			&session.CreatedTs,
			&session.UpdatedTs,
			&session.RowStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat_session: %w", err)
		}
		list = append(list, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat_sessions: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateChatSession(ctx context.Context, update *store.UpdateChatSession) (*store.ChatSession, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Pinned != nil {
		set, args = append(set, "pinned = "+placeholder(len(args)+1)), append(args, *update.Pinned)
	}
	if update.RowStatus != nil {
		set, args = append(set, "row_status = "+placeholder(len(args)+1)), append(args, update.RowStatus.String())
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE chat_session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING id, uid, principal, mode, title, pinned, created_ts, updated_ts, row_status`
	result := &store.ChatSession{}
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&result.ID, &result.UID, &result.Principal, &result.Mode, &result.Title, &result.Pinned, &result.CreatedTs, &result.UpdatedTs, &result.RowStatus,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chat_session not found")
		}
		return nil, fmt.Errorf("failed to update chat_session: %w", err)
	}

	return result, nil
}

func (d *DB) DeleteChatSession(ctx context.Context, delete *store.DeleteChatSession) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM chat_session WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete chat_session: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("chat_session not found")
	}

	return nil
}
