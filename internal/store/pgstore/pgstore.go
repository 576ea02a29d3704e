// Package pgstore is a session backend on PostgreSQL. Records live in the
// sessions table whose schema is managed by embedded golang-migrate
// migrations; expired rows are hidden by Load and deleted by GC.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/whisper/sessiond/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store manages session records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the database at dsn and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: postgres connection failed: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate brings the schema at dsn up to date. It opens its own connection
// because the migrate driver closes the handle it is given.
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("pgstore: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pgstore: migrate up: %w", err)
	}
	return nil
}

// Load returns the record for id unless it has expired.
func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	const query = `
		SELECT data
		FROM sessions
		WHERE id = $1
		  AND expires_at > NOW()`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: load: %w", err)
	}
	return data, true, nil
}

// Save upserts the record for id.
func (s *Store) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	const query = `
		INSERT INTO sessions (id, data, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()`

	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, id, data, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("pgstore: save: %w", err)
	}
	return nil
}

// Destroy deletes the record for id.
func (s *Store) Destroy(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("pgstore: destroy: %w", err)
	}
	return nil
}

// Touch extends the expiry of a live record.
func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	const query = `
		UPDATE sessions
		SET expires_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND expires_at > NOW()`

	if _, err := s.db.ExecContext(ctx, query, id, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("pgstore: touch: %w", err)
	}
	return nil
}

// GC deletes every row expired at now.
func (s *Store) GC(ctx context.Context, now time.Time) (int, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= $1`

	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("pgstore: gc: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgstore: gc rows affected: %w", err)
	}
	return int(n), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ store.Backend   = (*Store)(nil)
	_ store.Toucher   = (*Store)(nil)
	_ store.Collector = (*Store)(nil)
)
