// Package catalog stores videos, users and per-user preferences in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a video, user or preference does not exist.
	ErrNotFound = errors.New("catalog: not found")

	// ErrConflict is returned when a unique value is already taken.
	ErrConflict = errors.New("catalog: already exists")

	// ErrInvalidCredentials is returned when a username or password does not match.
	ErrInvalidCredentials = errors.New("catalog: invalid credentials")

	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
	ErrPasswordTooLong = errors.New("catalog: password is longer than 72 bytes")
)

const (
	// DefaultPerPage is used when a listing asks for no page size.
	DefaultPerPage = 20
	// MaxPerPage caps the page size of every listing.
	MaxPerPage = 100
)

// dsnPragmas are applied by the driver to every pooled connection, which
// matters for foreign_keys since it is per connection.
const dsnPragmas = "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Catalog is the SQLite backed store.
type Catalog struct {
	db   *sql.DB
	path string
	now  func() time.Time

	favorites prefTable
	dislikes  prefTable
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, xerrors.Errorf("failed to create directory for %q: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, xerrors.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Catalog{
		db:        db,
		path:      path,
		now:       time.Now,
		favorites: newPrefTable("favorites"),
		dislikes:  newPrefTable("dislikes"),
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("schema creation failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Ping checks that the database is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (c *Catalog) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}
	return nil
}

// Page is one page of a listing.
type Page struct {
	Items   []Video `json:"items"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
	Pages   int     `json:"pages"`
	Seed    int64   `json:"seed,omitempty"`
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func pageCount(total, perPage int) int {
	return (total + perPage - 1) / perPage
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
