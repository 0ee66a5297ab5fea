package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the transactional record store behind the tag cache. All access
// runs through the single shared *sql.DB handle; per-key ordering comes from
// the backend's own transaction semantics, no extra locking here.
type Store struct {
	db            *sql.DB
	log           zerolog.Logger
	schemaVersion int

	initOnce sync.Once
	initErr  error
}

// NewStore creates a store over an already-open database handle. Init must
// succeed before any other method is useful.
func NewStore(database *sql.DB, schemaVersion int, logger zerolog.Logger) *Store {
	return &Store{
		db:            database,
		log:           logger.With().Str("component", "cache.store").Logger(),
		schemaVersion: schemaVersion,
	}
}

// Init creates the schema exactly once per process. Concurrent callers share
// the same in-flight initialization and its outcome; the result is sticky.
func (s *Store) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize(ctx)
		if s.initErr != nil {
			s.initErr = fmt.Errorf("%w: %v", ErrUnavailable, s.initErr)
		}
	})
	return s.initErr
}

func (s *Store) initialize(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// A version bump destroys and recreates the store. No forward migration
	// of records: this is a cache, not a source of truth.
	if current != 0 && current != s.schemaVersion {
		s.log.Warn().Int("have", current).Int("want", s.schemaVersion).
			Msg("schema version mismatch, recreating tag cache")
		if err := s.destroy(ctx); err != nil {
			return fmt.Errorf("recreate schema: %w", err)
		}
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.schemaVersion)); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

func (s *Store) destroy(ctx context.Context) error {
	stmts := []string{
		"DROP INDEX IF EXISTS idx_tag_cache_timestamp",
		"DROP TABLE IF EXISTS tag_cache",
		"DROP TABLE IF EXISTS goose_db_version",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the stored record for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT key, tags, timestamp, size_bytes FROM tag_cache WHERE key = ?", key)

	var rec Record
	var raw string
	if err := row.Scan(&rec.Key, &raw, &rec.Timestamp, &rec.SizeBytes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	tags, err := decodeTags(raw)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	rec.Tags = tags
	return &rec, nil
}

// Put upserts a record by key, replace semantics.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	raw, err := encodeTags(rec.Tags)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tag_cache (key, tags, timestamp, size_bytes)
		VALUES (?, ?, ?, ?)
	`, rec.Key, raw, rec.Timestamp, rec.SizeBytes)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Key, err)
	}
	return nil
}

// Delete removes the record for key if present. Idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tag_cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tag_cache"); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// OldestFirst opens a lazy, single-pass cursor over all records in ascending
// timestamp order. Each call opens a fresh cursor; the caller must Close it.
func (s *Store) OldestFirst(ctx context.Context) (*Cursor, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, tags, timestamp, size_bytes FROM tag_cache ORDER BY timestamp ASC")
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return &Cursor{rows: rows}, nil
}

// Cursor streams records oldest-first without loading the whole set. Not
// restartable: once exhausted, open a new one.
type Cursor struct {
	rows *sql.Rows
	rec  Record
	err  error
}

// Next advances the cursor. It returns false at the end of the set or on the
// first scan error; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}

	var raw string
	c.rec = Record{}
	if err := c.rows.Scan(&c.rec.Key, &raw, &c.rec.Timestamp, &c.rec.SizeBytes); err != nil {
		c.err = fmt.Errorf("scan record: %w", err)
		return false
	}
	tags, err := decodeTags(raw)
	if err != nil {
		c.err = fmt.Errorf("scan record %s: %w", c.rec.Key, err)
		return false
	}
	c.rec.Tags = tags
	return true
}

// Record returns the record at the current cursor position.
func (c *Cursor) Record() Record { return c.rec }

// Err returns the first error hit while iterating, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the underlying rows.
func (c *Cursor) Close() error { return c.rows.Close() }
