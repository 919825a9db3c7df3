package storage

import (
	"context"
	"fmt"
	"time"
)

// DefaultHistoryLimit is how many status records are kept.
const DefaultHistoryLimit = 1000

// StatusRecord is one observed status change. Flags are stored as the
// strings "true", "false" or "unknown".
type StatusRecord struct {
	ID                 int64     `json:"id"`
	RecordedAt         time.Time `json:"recordedAt"`
	WalletName         string    `json:"walletName,omitempty"`
	Indicator          string    `json:"indicator"`
	MakerRunning       string    `json:"makerRunning"`
	CoinjoinInProcess  string    `json:"coinjoinInProcess"`
	WebsocketConnected bool      `json:"websocketConnected"`
	ConnectionError    string    `json:"connectionError,omitempty"`
}

// RecordStatus appends rec and trims the table to DefaultHistoryLimit rows.
func (db *DB) RecordStatus(ctx context.Context, rec StatusRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO status_history (
			recorded_at, wallet_name, indicator, maker_running,
			coinjoin_in_process, websocket_connected, connection_error
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RecordedAt.UTC(), rec.WalletName, rec.Indicator, rec.MakerRunning,
		rec.CoinjoinInProcess, rec.WebsocketConnected, rec.ConnectionError)
	if err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	return db.pruneHistory(ctx, DefaultHistoryLimit)
}

func (db *DB) pruneHistory(ctx context.Context, keep int) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM status_history
		WHERE id NOT IN (SELECT id FROM status_history ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune status history: %w", err)
	}
	return nil
}

// RecentStatus returns up to limit records, newest first.
func (db *DB) RecentStatus(ctx context.Context, limit int) ([]StatusRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, recorded_at, wallet_name, indicator, maker_running,
		       coinjoin_in_process, websocket_connected, connection_error
		FROM status_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var out []StatusRecord
	for rows.Next() {
		var rec StatusRecord
		if err := rows.Scan(
			&rec.ID, &rec.RecordedAt, &rec.WalletName, &rec.Indicator,
			&rec.MakerRunning, &rec.CoinjoinInProcess,
			&rec.WebsocketConnected, &rec.ConnectionError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan status record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status history: %w", err)
	}
	return out, nil
}
