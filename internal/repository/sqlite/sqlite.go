// Package sqlite implements the repository interfaces on SQLite.
//
// It uses modernc.org/sqlite, a pure Go translation of SQLite, so the server
// builds without a C toolchain. The schema is managed by goose migrations
// embedded in the binary.
//
// CONNECTION SETTINGS:
// Pragmas are passed in the DSN so they apply to every pooled connection,
// not just the first one:
//   - foreign_keys(1): grants and resource ACL rows cascade with their user
//   - busy_timeout(5000): writers wait for the lock instead of failing
//   - journal_mode(WAL): readers run while a writer holds the lock
//
// _txlock=immediate makes every BeginTx take the write lock up front. Two
// transactions that each read the administrator count and then write are
// therefore serialized, which is what keeps the quorum checks honest.
//
// CASE-INSENSITIVE MATCHING:
// SQLite's lower() and LIKE only fold ASCII, so "Ölaf" would never match
// "ölaf". The package registers casefold(), a Go strings.ToLower exposed as
// a deterministic SQL function, and free-text queries compare
// casefold(column) against a pattern folded the same way in Go.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	moderncsqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sakif/tenant-accounts/internal/repository"
	"github.com/sakif/tenant-accounts/internal/repository/sqlite/migrations"
)

func init() {
	if err := moderncsqlite.RegisterDeterministicScalarFunction("casefold", 1, casefold); err != nil {
		panic(fmt.Sprintf("sqlite: registering casefold: %v", err))
	}
}

// casefold lower-cases TEXT with full Unicode rules. NULL stays NULL.
func casefold(_ *moderncsqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// foldPattern builds a LIKE pattern matching q anywhere in a casefold()ed
// column.
func foldPattern(q string) string {
	return "%" + escapeLike(strings.ToLower(q)) + "%"
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the sqlite Store. A DB returned by New is bound to the connection
// pool; the DB handed to a WithTx callback is bound to that transaction.
type DB struct {
	conn *sql.DB
	q    dbtx
	inTx bool
}

var _ repository.Store = (*DB)(nil)

const dsnParams = "_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// New opens the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/accounts.db" → file-based database
//   - ":memory:"         → in-memory database, limited to one connection
//     because every sqlite connection to :memory: is a separate database
func New(ctx context.Context, dbPath string) (*DB, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite", dbPath+sep+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return newDB(conn), nil
}

func newDB(conn *sql.DB) *DB {
	return &DB{conn: conn, q: conn}
}

// Close closes the connection pool. It is a no-op on a transaction-bound DB.
func (db *DB) Close() error {
	if db.inTx {
		return nil
	}
	return db.conn.Close()
}

// gooseUpContext is a seam for testing migration failures.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return gooseUpContext(ctx, conn, ".")
}

func (db *DB) Users() repository.UserRepository                { return db }
func (db *DB) Grants() repository.GrantRepository              { return db }
func (db *DB) Resources() repository.ResourceRepository        { return db }
func (db *DB) Invites() repository.InviteRepository            { return db }
func (db *DB) ServerConfig() repository.ServerConfigRepository { return db }

// WithTx runs fn in one transaction. Nested calls reuse the outer
// transaction.
func (db *DB) WithTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if db.inTx {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("sqlite: committing transaction: %w", cerr)
		}
	}()

	return fn(&DB{conn: db.conn, q: tx, inTx: true})
}

func constraintCode(err error) int {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return 0
	}
	return se.Code()
}

// isUniqueViolation reports whether err is a UNIQUE index failure.
func isUniqueViolation(err error) bool {
	return constraintCode(err) == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
}

func isPrimaryKeyViolation(err error) bool {
	return constraintCode(err) == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

// escapeLike escapes LIKE wildcards so user input matches literally.
// Queries using it must say ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
