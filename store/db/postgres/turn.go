package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/store"
)

func (d *DB) CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error) {
	fields := []string{"uid", "session_id", "sender", "content", "client_msg_id", "reply_to_id", "reaction", "reaction_note"}
	args := []any{create.UID, create.SessionID, string(create.Sender), create.Content, create.ClientMsgID, create.ReplyToID, create.Reaction, create.ReactionNote}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		args = append(args, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields = append(fields, "updated_ts")
		args = append(args, create.UpdatedTs)
	}

	stmt := `INSERT INTO turn (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}

	return create, nil
}

func (d *DB) ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.Sender != nil {
		where, args = append(where, "sender = "+placeholder(len(args)+1)), append(args, string(*find.Sender))
	}
	if find.ClientMsgID != nil {
		where, args = append(where, "client_msg_id = "+placeholder(len(args)+1)), append(args, *find.ClientMsgID)
	}
	if find.ReplyToID != nil {
		where, args = append(where, "reply_to_id = "+placeholder(len(args)+1)), append(args, *find.ReplyToID)
	}

	query := `SELECT id, uid, session_id, sender, content, client_msg_id, reply_to_id, reaction, reaction_note, created_ts, updated_ts FROM turn WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Turn, 0)
	for rows.Next() {
		turn := &store.Turn{}
		var sender string
		if err := rows.Scan(
			&turn.ID,
			&turn.UID,
			&turn.SessionID,
			&sender,
			&turn.Content,
			&turn.ClientMsgID,
			&turn.ReplyToID,
			&turn.Reaction,
			&turn.ReactionNote,
			&turn.CreatedTs,
			&turn.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Sender = store.Sender(sender)
		list = append(list, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateTurn(ctx context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Reaction != nil {
		set, args = append(set, "reaction = "+placeholder(len(args)+1)), append(args, *update.Reaction)
	}
	if update.ReactionNote != nil {
		set, args = append(set, "reaction_note = "+placeholder(len(args)+1)), append(args, *update.ReactionNote)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE turn SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING id, uid, session_id, sender, content, client_msg_id, reply_to_id, reaction, reaction_note, created_ts, updated_ts`
	result := &store.Turn{}
	var sender string
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&result.ID, &result.UID, &result.SessionID, &sender, &result.Content, &result.ClientMsgID, &result.ReplyToID, &result.Reaction, &result.ReactionNote, &result.CreatedTs, &result.UpdatedTs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("turn not found")
		}
		return nil, fmt.Errorf("failed to update turn: %w", err)
	}
	result.Sender = store.Sender(sender)

	return result, nil
}

// GrowTurnContent writes the new content only when it is strictly longer
// than the stored content, so a replayed shorter stream never clobbers a
// fuller answer.
func (d *DB) GrowTurnContent(ctx context.Context, id int32, content string, updatedTs int64) (bool, error) {
	stmt := `UPDATE turn SET content = $1, updated_ts = $2 WHERE id = $3 AND LENGTH(content) < LENGTH($1)`
	result, err := d.db.ExecContext(ctx, stmt, content, updatedTs, id)
	if err != nil {
		return false, fmt.Errorf("failed to grow turn content: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (d *DB) DeleteTurn(ctx context.Context, delete *store.DeleteTurn) error {
	where, args := []string{}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *delete.SessionID)
	}

	if len(where) == 0 {
		return fmt.Errorf("no condition to delete")
	}

	stmt := `DELETE FROM turn WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete turn: %w", err)
	}

	return nil
}
