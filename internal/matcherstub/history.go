package matcherstub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoRecord is returned when a match or upload id is unknown.
var ErrNoRecord = errors.New("matcherstub: no such record")

const historySchema = `
CREATE TABLE IF NOT EXISTS matches (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL,
	author     TEXT NOT NULL,
	name       TEXT NOT NULL,
	distance   REAL NOT NULL,
	can_swap   INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS uploads (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	path       TEXT NOT NULL,
	bytes      INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS uploads_user ON uploads(user_id, created_at);
`

// MatchRecord is one answered /match-photo request.
type MatchRecord struct {
	ID        string    `json:"matchID"`
	RequestID string    `json:"requestID,omitempty"`
	Category  string    `json:"category"`
	Author    string    `json:"author"`
	Name      string    `json:"name"`
	Distance  float64   `json:"similarityDistance"`
	CanSwap   bool      `json:"canSwap"`
	CreatedAt time.Time `json:"createdAt"`
}

// UploadRecord is one stored /upload-photo payload.
type UploadRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Path      string    `json:"-"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// History keeps matches and uploads in SQLite.
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the database at path. ":memory:" keeps
// it in process.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("matcherstub: open history: %w", err)
	}
	// one connection, so :memory: is a single database and writes serialize
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("matcherstub: create history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error { return h.db.Close() }

// RecordMatch stores r; CreatedAt defaults to now.
func (h *History) RecordMatch(ctx context.Context, r MatchRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO matches (id, request_id, category, author, name, distance, can_swap, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequestID, r.Category, r.Author, r.Name, r.Distance, r.CanSwap, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("matcherstub: record match: %w", err)
	}
	return nil
}

// Match looks up a match by id.
func (h *History) Match(ctx context.Context, id string) (MatchRecord, error) {
	var r MatchRecord
	var created int64
	err := h.db.QueryRowContext(ctx,
		`SELECT id, request_id, category, author, name, distance, can_swap, created_at
		 FROM matches WHERE id = ?`, id).
		Scan(&r.ID, &r.RequestID, &r.Category, &r.Author, &r.Name, &r.Distance, &r.CanSwap, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return MatchRecord{}, ErrNoRecord
	}
	if err != nil {
		return MatchRecord{}, fmt.Errorf("matcherstub: load match: %w", err)
	}
	r.CreatedAt = time.UnixMilli(created)
	return r, nil
}

// RecordUpload stores r; CreatedAt defaults to now.
func (h *History) RecordUpload(ctx context.Context, r UploadRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO uploads (id, user_id, path, bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Path, r.Bytes, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("matcherstub: record upload: %w", err)
	}
	return nil
}

// Uploads lists a user's uploads, newest first.
func (h *History) Uploads(ctx context.Context, userID string) ([]UploadRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, user_id, path, bytes, created_at FROM uploads
		 WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("matcherstub: list uploads: %w", err)
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		var r UploadRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Path, &r.Bytes, &created); err != nil {
			return nil, fmt.Errorf("matcherstub: list uploads: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
