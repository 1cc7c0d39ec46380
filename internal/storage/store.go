// Package storage persists finished results under short random keys.
package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// Common errors
var (
	ErrNotFound     = errors.New("result not found")
	ErrKeyExhausted = errors.New("could not allocate a unique result key")
)

const (
	KeyLength      = 8
	maxKeyAttempts = 8
	keyAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schemas = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS saved_results (
			result_key TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	DriverPostgres: `
		CREATE TABLE IF NOT EXISTS saved_results (
			result_key VARCHAR(16) PRIMARY KEY,
			payload    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
}

// ResultStore implements domain.ResultStore on SQLite or Postgres.
type ResultStore struct {
	db     *sql.DB
	driver string
	newKey func() (string, error)
	now    func() time.Time
	log    *observability.Logger
}

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	Logger       *observability.Logger
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, opts Options) (*ResultStore, error) {
	var sqlDriver string
	switch opts.Driver {
	case DriverSQLite:
		sqlDriver = "sqlite3"
	case DriverPostgres:
		sqlDriver = "postgres"
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported database driver %q", opts.Driver), nil)
	}
	if opts.DSN == "" {
		return nil, domain.ConfigError("database dsn is required", nil)
	}

	db, err := sql.Open(sqlDriver, opts.DSN)
	if err != nil {
		return nil, domain.IOError("open database", err)
	}

	if opts.Driver == DriverSQLite {
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	store := New(db, opts.Driver, opts.Logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string, log *observability.Logger) *ResultStore {
	if log == nil {
		log = observability.Nop()
	}
	return &ResultStore{
		db:     db,
		driver: driver,
		newKey: randomKey,
		now:    time.Now,
		log:    log.WithOperation("result_store"),
	}
}

// Migrate creates the results table.
func (s *ResultStore) Migrate(ctx context.Context) error {
	ddl, ok := schemas[s.driver]
	if !ok {
		return domain.ConfigError(fmt.Sprintf("unsupported database driver %q", s.driver), nil)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return domain.IOError("create saved_results table", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Save stores payload and returns its new key. A key collision is retried
// with a fresh key a bounded number of times.
func (s *ResultStore) Save(ctx context.Context, payload json.RawMessage) (string, error) {
	if !json.Valid(payload) {
		return "", domain.ValidationError("payload is not valid JSON", nil)
	}

	query := s.rebind(`
		INSERT INTO saved_results (result_key, payload, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (result_key) DO NOTHING
	`)

	for attempt := 1; attempt <= maxKeyAttempts; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return "", domain.IOError("generate result key", err)
		}

		res, err := s.db.ExecContext(ctx, query, key, string(payload), s.now().UTC())
		if err != nil {
			return "", domain.IOError("insert result", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", domain.IOError("insert result", err)
		}
		if n == 1 {
			s.log.Info().Str("key", key).Int("bytes", len(payload)).Msg("result saved")
			return key, nil
		}

		s.log.Debug().Str("key", key).Int("attempt", attempt).Msg("result key collision")
	}

	return "", ErrKeyExhausted
}

// Load returns the result stored under key or ErrNotFound.
func (s *ResultStore) Load(ctx context.Context, key string) (*domain.SavedResult, error) {
	query := s.rebind(`SELECT result_key, payload, created_at FROM saved_results WHERE result_key = $1`)

	var (
		result  domain.SavedResult
		payload string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&result.Key, &payload, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.IOError("load result", err)
	}

	result.Payload = json.RawMessage(payload)
	return &result, nil
}

// rebind rewrites $N placeholders for drivers that expect '?'.
func (s *ResultStore) rebind(query string) string {
	if s.driver != DriverSQLite {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i), "?")
	}
	return query
}

// randomKey draws KeyLength characters uniformly from keyAlphabet.
func randomKey() (string, error) {
	const limit = 256 - 256%len(keyAlphabet)

	out := make([]byte, 0, KeyLength)
	buf := make([]byte, KeyLength*2)
	for len(out) < KeyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(out) == KeyLength {
				break
			}
		}
	}
	return string(out), nil
}

var _ domain.ResultStore = (*ResultStore)(nil)
