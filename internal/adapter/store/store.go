package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

// Supported database types.
const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// Store is the relational store behind every persistence port.
type Store struct {
	db *bun.DB
}

var (
	_ port.CredentialStore = (*Store)(nil)
	_ port.SessionStore    = (*Store)(nil)
	_ port.WorkflowStore   = (*Store)(nil)
	_ port.AuditSink       = (*Store)(nil)
)

// Open connects to the database, applies pending migrations and returns a store.
func Open(ctx context.Context, dbType, dsn string) (*Store, error) {
	var (
		db  *bun.DB
		err error
	)
	switch dbType {
	case TypePostgres:
		db, err = openPostgres(ctx, dsn)
	case TypeSQLite:
		db, err = openSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, db, dbType); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("database ready", "type", dbType)
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying *bun.DB.
func (s *Store) DB() *bun.DB {
	return s.db
}

// --- Helpers ---

// rawExecer is satisfied by *bun.DB, *bun.Tx and bun.IDB.
type rawExecer interface {
	NewRaw(query string, args ...interface{}) *bun.RawQuery
}

func execRaw(ctx context.Context, exec rawExecer, query string, args ...interface{}) (sql.Result, error) {
	return exec.NewRaw(query, args...).Exec(ctx)
}

func queryRawInto(ctx context.Context, exec rawExecer, dest interface{}, query string, args ...interface{}) error {
	return exec.NewRaw(query, args...).Scan(ctx, dest)
}

// lockForUpdate adds a row lock to q on databases that support one.
// SQLite runs with a single connection, so transactions already serialize.
func lockForUpdate(q *bun.SelectQuery) *bun.SelectQuery {
	if q.DB().Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

// Postgres SQLSTATE codes handled by mapDBError.
const (
	pqInvalidTextRepresentation = "22P02"
	pqUniqueViolation           = "23505"
)

// mapDBError maps driver errors onto port sentinels.
func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqInvalidTextRepresentation:
			// A malformed id can never match a uuid primary key.
			return fmt.Errorf("%w: %v", port.ErrNotFound, err)
		case pqUniqueViolation:
			return fmt.Errorf("%w: %v", port.ErrDuplicate, err)
		}
	}
	le := strings.ToLower(err.Error())
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") {
		return fmt.Errorf("%w: %v", port.ErrDuplicate, err)
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return port.ErrNotFound
	}
	return nil
}
