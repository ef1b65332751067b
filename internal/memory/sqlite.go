package memory

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// Open opens (or creates) the praxis SQLite database at path with WAL
// journaling and a busy timeout suitable for concurrent readers. The
// returned handle is shared by the memory and task stores.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}
