package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// PostgresStore implements BucketStore on a PostgreSQL table with one
// row per bucket position.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection, verifies it, and creates the
// bucket table if it does not exist.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: opening postgres: %v", ErrUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: postgres ping failed: %v", ErrUnavailable, err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS oram_buckets (
		position INTEGER PRIMARY KEY,
		blob     BYTEA NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating bucket table: %v", ErrUnavailable, err)
	}

	return &PostgresStore{db: db}, nil
}

// ReadBucket returns the blob at position.
func (s *PostgresStore) ReadBucket(ctx context.Context, position int) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM oram_buckets WHERE position = $1`, position).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading bucket %d: %v", ErrUnavailable, position, err)
	}
	return blob, nil
}

// WriteBucket upserts the blob at position.
func (s *PostgresStore) WriteBucket(ctx context.Context, position int, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oram_buckets (position, blob) VALUES ($1, $2)
		 ON CONFLICT (position) DO UPDATE SET blob = EXCLUDED.blob`,
		position, blob)
	if err != nil {
		return fmt.Errorf("%w: writing bucket %d: %v", ErrUnavailable, position, err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }
