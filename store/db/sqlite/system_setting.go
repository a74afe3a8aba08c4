package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func (d *DB) UpsertSystemSetting(ctx context.Context, name, value string) error {
	stmt := `INSERT INTO system_setting (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`
	if _, err := d.db.ExecContext(ctx, stmt, name, value); err != nil {
		return fmt.Errorf("failed to upsert system_setting: %w", err)
	}
	return nil
}

func (d *DB) GetSystemSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM system_setting WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system_setting: %w", err)
	}
	return value, nil
}
