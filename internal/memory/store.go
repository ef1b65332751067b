// Package memory provides the append-only conversational record store
// and the room provisioner. The loop persists decisions and action
// responses here; nothing is ever updated or deleted, so the table
// doubles as an audit trail of everything the agent decided and did.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record kinds persisted by the loop.
const (
	KindDecision       = "decision"
	KindActionResponse = "action_response"
)

// Record is one conversational memory entry.
type Record struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	Kind      string         `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is an append-only SQLite store for conversational records and
// the room registry. All public methods are safe for concurrent use
// (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store on the given database connection,
// running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate memory: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_room ON records(room_id, created_at);

		CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);
	`)
	return err
}

// Persist appends a record. A missing ID gets a UUIDv7 and a zero
// CreatedAt is stamped now. The stored record is never modified again.
func (s *Store) Persist(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal record metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, room_id, kind, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.RoomID, rec.Kind, rec.Content, string(meta),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Recent returns up to limit records for a room, newest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, kind, content, metadata, created_at
		FROM records WHERE room_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var meta sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.Kind, &rec.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal record metadata: %w", err)
			}
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EnsureRoom returns the ID of the room with the given name, creating
// it if necessary. Safe to call repeatedly: the existing room is
// reused across restarts so conversational history accumulates in one
// scope.
func (s *Store) EnsureRoom(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM rooms WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("lookup room %q: %w", name, err)
	}

	roomID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate room ID: %w", err)
	}
	id = roomID.String()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, id, name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create room %q: %w", name, err)
	}

	// Re-read in case a concurrent insert won the conflict.
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM rooms WHERE name = ?`, name).Scan(&id); err != nil {
		return "", fmt.Errorf("reread room %q: %w", name, err)
	}
	return id, nil
}

// Stats returns store statistics for introspection.
func (s *Store) Stats() map[string]any {
	var records, rooms int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&records)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&rooms)
	return map[string]any{
		"records": records,
		"rooms":   rooms,
	}
}
