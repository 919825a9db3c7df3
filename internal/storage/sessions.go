package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaveSession replaces the held wallet session.
func (db *DB) SaveSession(ctx context.Context, name, token string) error {
	if strings.TrimSpace(name) == "" || token == "" {
		return fmt.Errorf("missing wallet name or token")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO wallet_session (id, wallet_name, token, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			wallet_name = excluded.wallet_name,
			token = excluded.token,
			saved_at = excluded.saved_at
	`, name, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the held wallet session. ok is false when none is
// stored.
func (db *DB) LoadSession(ctx context.Context) (name, token string, ok bool, err error) {
	err = db.QueryRowContext(ctx,
		"SELECT wallet_name, token FROM wallet_session WHERE id = 1",
	).Scan(&name, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to load session: %w", err)
	}
	return name, token, true, nil
}

// ClearSession removes the stored session. With a non-empty name only a
// session for that wallet is removed, so a session saved for another wallet
// in the meantime survives.
func (db *DB) ClearSession(ctx context.Context, name string) error {
	var err error
	if name == "" {
		_, err = db.ExecContext(ctx, "DELETE FROM wallet_session")
	} else {
		_, err = db.ExecContext(ctx, "DELETE FROM wallet_session WHERE wallet_name = ?", name)
	}
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
