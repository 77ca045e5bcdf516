// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. Perfect for:
// - Single-server deployments (which is most apps, honestly)
// - Development and testing (use ":memory:" for an in-memory DB)
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo (calls C code from Go), which means you need a C compiler
// installed and cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so it builds without a C compiler wherever Go does.
//
// LAYOUT:
// One *DB owns the connection pool. Each aggregate gets a small store type
// (UserDB, PostDB, SubscriptionDB, SubscriberDB) that shares the pool and
// implements one repository interface, so method names like Create and
// GetByID never collide.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// BLANK IMPORT:
	// The sqlite package's init() registers itself with database/sql as a
	// driver named "sqlite". After this import, sql.Open("sqlite", ...) works.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens (or creates) the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/inmyopinion.db" → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests; lost on close)
//
// PRAGMAS IN THE DSN:
// database/sql hands out several connections, and a PRAGMA run with Exec
// only configures the one connection it happened to use. Passing them as
// _pragma parameters makes the driver apply them to every new connection.
func New(dbPath string) (*DB, error) {
	return open(dbPath, true)
}

// Open connects without running migrations. The migrate command uses it so
// it can report the schema version before and after.
func Open(dbPath string) (*DB, error) {
	return open(dbPath, false)
}

func open(dbPath string, runMigrations bool) (*DB, error) {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	memory := dbPath == ":memory:"
	if !memory {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	// _txlock=immediate makes every BeginTx take the write lock up front.
	// A deferred transaction that reads and then writes cannot wait for the
	// lock it needs to upgrade, so SQLite fails it with SQLITE_BUSY at once
	// and busy_timeout never gets a chance. Taken at BEGIN, the lock is
	// simply waited for.
	dsn := dbPath + "?_pragma=" + strings.Join(pragmas, "&_pragma=") + "&_txlock=immediate"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a brand-new empty database, so the
	// pool must never open a second one.
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if runMigrations {
		if _, err := db.Migrate(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate applies every pending migration and returns the resulting schema
// version.
//
// golang-migrate records applied versions in a schema_migrations table, so
// running this on every start is safe: already-applied files are skipped.
//
// We deliberately never call m.Close(): the sqlite driver's Close would
// close our shared *sql.DB along with it.
func (db *DB) Migrate() (uint, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, fmt.Errorf("sqlite: loading migrations: %w", err)
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("sqlite: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("sqlite: preparing migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("sqlite: reading schema version: %w", err)
	}
	return version, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserDB                 { return &UserDB{db: db} }
func (db *DB) Posts() *PostDB                 { return &PostDB{db: db} }
func (db *DB) Subscriptions() *SubscriptionDB { return &SubscriptionDB{db: db} }
func (db *DB) Subscribers() *SubscriberDB     { return &SubscriberDB{db: db} }

// inTx runs fn inside an IMMEDIATE transaction (see the DSN in open),
// committing on success and rolling back on error or panic. Concurrent
// writers queue on busy_timeout, so a read-then-guarded-write in fn sees
// the other writer's committed result and reports a conflict.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// TIMESTAMPS:
// Times are stored as INTEGER milliseconds since the epoch (UTC). Integers
// compare and sort correctly in SQL, which the listing ORDER BY and the
// trial-expiry sweep rely on.

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// stamp truncates t to what the database can represent, so the struct a
// store hands back matches what a later read would return.
func stamp(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
