package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding collected profiles and the
// connection log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "linkreach.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and avoids
	// "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Profiles ---

// SaveProfiles upserts every record that carries a profileUrl, replacing any
// previous document for that URL. Records without a URL are skipped. It
// returns the number of records stored.
func (s *Store) SaveProfiles(records []map[string]any) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning profile transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	stored := 0
	for _, rec := range records {
		url := stringField(rec, FieldProfileURL)
		if url == "" {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encoding profile %s: %w", url, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO profiles (url, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
			url, stringField(rec, FieldStatus), string(data), now, now,
		); err != nil {
			return 0, fmt.Errorf("saving profile %s: %w", url, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing profiles: %w", err)
	}
	return stored, nil
}

// GetProfile returns the profile stored under url.
func (s *Store) GetProfile(url string) (Profile, error) {
	row := s.db.QueryRow(`SELECT url, status, data, created_at, updated_at FROM profiles WHERE url = ?`, url)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

// ListProfiles returns stored profiles in collection order. A non-empty
// status restricts the result to profiles with that status.
func (s *Store) ListProfiles(status string) ([]Profile, error) {
	query := `SELECT url, status, data, created_at, updated_at FROM profiles`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, url ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// CountProfiles returns the number of stored profiles.
func (s *Store) CountProfiles() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&n)
	return n, err
}

// --- Connections ---

// RecordConnection appends c to the connection log and, when the profile is
// known, marks it connected. A zero ConnectedAt is set to the current time and
// an empty ID gets a fresh UUID. The stored entry is returned.
func (s *Store) RecordConnection(c Connection) (Connection, error) {
	now := s.now()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = now
	}
	c.CreatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return Connection{}, fmt.Errorf("beginning connection transaction: %w", err)
	}
	defer tx.Rollback()

	var message sql.NullString
	if c.MessageUsed != nil {
		message = sql.NullString{String: *c.MessageUsed, Valid: true}
	}
	if _, err := tx.Exec(`
		INSERT INTO connections (id, profile_url, message_used, connected_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.ProfileURL, message, formatTime(c.ConnectedAt), formatTime(c.CreatedAt),
	); err != nil {
		return Connection{}, fmt.Errorf("inserting connection: %w", err)
	}

	var raw string
	err = tx.QueryRow(`SELECT data FROM profiles WHERE url = ?`, c.ProfileURL).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Unknown profile: the log entry alone is kept.
	case err != nil:
		return Connection{}, fmt.Errorf("loading profile %s: %w", c.ProfileURL, err)
	default:
		data := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return Connection{}, fmt.Errorf("decoding profile %s: %w", c.ProfileURL, err)
		}
		data[FieldStatus] = StatusConnected
		data[FieldConnectionTimestamp] = unixSeconds(c.ConnectedAt)
		updated, err := json.Marshal(data)
		if err != nil {
			return Connection{}, fmt.Errorf("encoding profile %s: %w", c.ProfileURL, err)
		}
		if _, err := tx.Exec(`UPDATE profiles SET status = ?, data = ?, updated_at = ? WHERE url = ?`,
			StatusConnected, string(updated), formatTime(now), c.ProfileURL,
		); err != nil {
			return Connection{}, fmt.Errorf("updating profile %s: %w", c.ProfileURL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Connection{}, fmt.Errorf("committing connection: %w", err)
	}
	return c, nil
}

// ListConnections returns the connection log, newest first.
func (s *Store) ListConnections(limit, offset int) ([]Connection, error) {
	rows, err := s.db.Query(`
		SELECT id, profile_url, message_used, connected_at, created_at
		FROM connections ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Connection
	for rows.Next() {
		var c Connection
		var message sql.NullString
		var connectedAt, createdAt string
		if err := rows.Scan(&c.ID, &c.ProfileURL, &message, &connectedAt, &createdAt); err != nil {
			return nil, err
		}
		if message.Valid {
			m := message.String
			c.MessageUsed = &m
		}
		if c.ConnectedAt, err = parseTime(connectedAt); err != nil {
			return nil, fmt.Errorf("parsing connected_at: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// CountConnections returns the number of logged connections.
func (s *Store) CountConnections() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM connections`).Scan(&n)
	return n, err
}

// CountConnectionsSince returns the number of connections logged at or after t.
func (s *Store) CountConnectionsSince(t time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM connections WHERE created_at >= ?`, formatTime(t)).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var raw, createdAt, updatedAt string
	if err := row.Scan(&p.URL, &p.Status, &raw, &createdAt, &updatedAt); err != nil {
		return Profile{}, err
	}
	p.Data = make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &p.Data); err != nil {
		return Profile{}, fmt.Errorf("decoding profile %s: %w", p.URL, err)
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

func stringField(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
