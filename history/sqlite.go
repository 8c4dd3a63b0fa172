// Package history provides a SQLite-backed log of build attempts. It records
// what happened, never the compiled stylesheet itself.
package history

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Moshyfawn/tailwind-serve/proto"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// MemoryPath keeps history in memory for the life of the process.
const MemoryPath = ":memory:"

// DB wraps a SQLite connection holding build history.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the history database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		path = MemoryPath
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database path.
func (db *DB) Path() string {
	return db.path
}

// Record stores one build attempt.
func (db *DB) Record(rec *proto.BuildRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ok := 0
	if rec.OK {
		ok = 1
	}
	_, err := db.conn.Exec(
		`INSERT INTO builds (id, cause, started_at, duration_ms, ok, candidate_count, file_count, bytes, digest, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Trigger, rec.StartedAt, rec.DurationMs, ok,
		rec.CandidateCount, rec.FileCount, rec.Bytes, rec.Digest, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting build: %w", err)
	}
	return nil
}

// Recent returns up to limit build attempts, newest first.
func (db *DB) Recent(limit int) ([]*proto.BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT id, cause, started_at, duration_ms, ok, candidate_count, file_count, bytes, digest, error
		 FROM builds ORDER BY seq DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying builds: %w", err)
	}
	defer rows.Close()

	var out []*proto.BuildRecord
	for rows.Next() {
		var rec proto.BuildRecord
		var ok int
		if err := rows.Scan(&rec.ID, &rec.Trigger, &rec.StartedAt, &rec.DurationMs, &ok,
			&rec.CandidateCount, &rec.FileCount, &rec.Bytes, &rec.Digest, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		rec.OK = ok != 0
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Count returns the number of recorded attempts.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM builds`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting builds: %w", err)
	}
	return n, nil
}

// Prune deletes attempts that started before cutoff.
func (db *DB) Prune(cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`DELETE FROM builds WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning builds: %w", err)
	}
	return res.RowsAffected()
}
