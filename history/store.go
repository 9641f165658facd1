// Package history persists finished cleaning runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kwv/roomdash/roommap"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    map_id        TEXT NOT NULL,
    started_at    TEXT NOT NULL,
    ended_at      TEXT NOT NULL,
    end_status    TEXT NOT NULL,
    ticks         INTEGER NOT NULL,
    path_length   REAL NOT NULL,
    areas_cleaned INTEGER NOT NULL,
    rooms_visited TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions (started_at);
`

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the cleaning history repository. The SQL driver is registered
// by the binary (github.com/ncruces/go-sqlite3/driver).
type Store struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dbPath.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Open opens the database at dbPath and applies the schema.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	s := New(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database. Call Init before use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the tables.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a session, replacing any row with the same id.
func (s *Store) Save(ctx context.Context, sum roommap.SessionSummary) error {
	rooms := sum.RoomsVisited
	if rooms == nil {
		rooms = []string{}
	}
	roomsJSON, err := json.Marshal(rooms)
	if err != nil {
		return fmt.Errorf("marshal rooms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO sessions
            (id, map_id, started_at, ended_at, end_status, ticks, path_length, areas_cleaned, rooms_visited)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		sum.ID,
		sum.MapID,
		sum.StartedAt.UTC().Format(timeLayout),
		sum.EndedAt.UTC().Format(timeLayout),
		sum.EndStatus,
		sum.Ticks,
		sum.PathLength,
		sum.AreasCleaned,
		string(roomsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sum.ID, err)
	}
	return nil
}

// GetAll returns every session, newest first.
func (s *Store) GetAll(ctx context.Context) ([]roommap.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, map_id, started_at, ended_at, end_status, ticks, path_length, areas_cleaned, rooms_visited
        FROM sessions
        ORDER BY started_at DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []roommap.SessionSummary{}
	for rows.Next() {
		var (
			sum            roommap.SessionSummary
			started, ended string
			roomsJSON      string
		)
		if err := rows.Scan(&sum.ID, &sum.MapID, &started, &ended, &sum.EndStatus,
			&sum.Ticks, &sum.PathLength, &sum.AreasCleaned, &roomsJSON); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sum.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("session %s started_at: %w", sum.ID, err)
		}
		if sum.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
			return nil, fmt.Errorf("session %s ended_at: %w", sum.ID, err)
		}
		if err := json.Unmarshal([]byte(roomsJSON), &sum.RoomsVisited); err != nil {
			return nil, fmt.Errorf("session %s rooms: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Clear deletes every session and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	return res.RowsAffected()
}
