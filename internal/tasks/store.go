// Package tasks persists the agent's task backlog in SQLite. Tasks are
// scoped to a room and carry free-form tags that drive observation
// relevance scoring ("urgent", "high-priority", "autonomous").
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Task is one backlog entry.
type Task struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RoomID    string         `json:"room_id"`
	Status    string         `json:"status"` // pending, completed
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	return slices.Contains(t.Tags, tag)
}

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Filter scopes a Query. Zero fields match everything; Tags requires
// every listed tag to be present.
type Filter struct {
	RoomID string
	Tags   []string
}

// Store manages task persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			room_id    TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			tags       TEXT,
			metadata   TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_room ON tasks(room_id);
	`)
	return err
}

// Create inserts a task. A missing ID gets a UUIDv7; a missing status
// defaults to pending; a zero CreatedAt is stamped now.
func (s *Store) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate task ID: %w", err)
		}
		t.ID = id.String()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal task tags: %w", err)
	}
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal task metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, room_id, status, tags, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.RoomID, t.Status, string(tags), string(meta),
		t.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Query returns tasks matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT id, name, room_id, status, tags, metadata, created_at FROM tasks`
	var args []any
	if f.RoomID != "" {
		query += ` WHERE room_id = ?`
		args = append(args, f.RoomID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var tags, meta sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.RoomID, &t.Status, &tags, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal task tags: %w", err)
			}
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal task metadata: %w", err)
			}
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		if matchesTags(&t, f.Tags) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// matchesTags reports whether the task carries every required tag.
func matchesTags(t *Task, required []string) bool {
	for _, tag := range required {
		if !t.HasTag(tag) {
			return false
		}
	}
	return true
}

// SetStatus updates a task's status.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return err
}
