package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// messageTimeLayout is fixed width so that created_at sorts lexically.
const messageTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding the bridge key-value record, the
// emulated watch settings and the outbound message log.
type Store struct {
	db *sql.DB
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
		dsn = filepath.Join(dataDir, "watchbridge.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
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

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
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

// --- Key/value ---

// Get returns the value stored under key. The boolean is false when no value
// has ever been stored, which callers must keep distinct from an empty value.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set replaces the value stored under key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// --- Watch settings ---

func (s *Store) SetSetting(key string, value int) error {
	_, err := s.db.Exec(`
		INSERT INTO watch_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetSetting(key string) (int, error) {
	var value int
	err := s.db.QueryRow("SELECT value FROM watch_settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return value, err
}

// DeleteSetting removes key. Deleting a missing key is not an error.
func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec("DELETE FROM watch_settings WHERE key = ?", key)
	return err
}

func (s *Store) AllSettings() (map[string]int, error) {
	rows, err := s.db.Query("SELECT key, value FROM watch_settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Messages ---

func (s *Store) RecordMessage(m MessageRecord) error {
	status := m.Status
	if status == "" {
		status = StatusPending
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ts := created.UTC().Format(messageTimeLayout)
	_, err := s.db.Exec(`
		INSERT INTO messages (id, flow_id, payload, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FlowID, m.Payload, status, m.Error, ts, ts,
	)
	return err
}

func (s *Store) UpdateMessageStatus(id, status, errMsg string) error {
	res, err := s.db.Exec(`UPDATE messages SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC().Format(messageTimeLayout), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetMessage(id string) (MessageRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, flow_id, payload, status, error, created_at, updated_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return MessageRecord{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns messages newest first.
func (s *Store) ListMessages(limit, offset int) ([]MessageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, flow_id, payload, status, error, created_at, updated_at
		FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (MessageRecord, error) {
	var m MessageRecord
	var createdAt, updatedAt string
	if err := row.Scan(&m.ID, &m.FlowID, &m.Payload, &m.Status, &m.Error, &createdAt, &updatedAt); err != nil {
		return MessageRecord{}, err
	}
	var err error
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return MessageRecord{}, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return MessageRecord{}, fmt.Errorf("parsing updated_at for message %s: %w", m.ID, err)
	}
	return m, nil
}
