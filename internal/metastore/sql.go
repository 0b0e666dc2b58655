package metastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, xerrors.Wrapf(err, "create database directory %s", dir)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, xerrors.Wrap(err, "open sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrapf(err, "connect sqlite %s", path)
	}
	if _, err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded migrations and returns the resulting version.
func Migrate(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, xerrors.Wrap(err, "open embedded migrations")
	}
	defer src.Close()

	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, xerrors.Wrap(err, "init sqlite migration driver")
	}
	// m.Close would close db as well, the caller owns it
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return 0, xerrors.Wrap(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, xerrors.Wrap(err, "apply migrations")
	}
	v, _, err := m.Version()
	if err != nil {
		return 0, xerrors.Wrap(err, "read migration version")
	}
	return v, nil
}

// SQLStore reads records from the metadata(path, name, value) table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Lookup(ctx context.Context, key string) (Record, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM metadata WHERE path = ?`, key)
	if err != nil {
		return nil, false, xerrors.Wrap(err, "query metadata")
	}
	defer rows.Close()

	var rec Record
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, false, xerrors.Wrap(err, "scan metadata row")
		}
		if rec == nil {
			rec = make(Record)
		}
		rec[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, false, xerrors.Wrap(err, "iterate metadata rows")
	}
	return rec, rec != nil, nil
}

// Put replaces the record stored under key.
func (s *SQLStore) Put(ctx context.Context, key string, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(err, "begin metadata write")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE path = ?`, key); err != nil {
		return xerrors.Wrap(err, "clear metadata")
	}
	for name, value := range rec {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metadata (path, name, value) VALUES (?, ?, ?)`, key, name, value); err != nil {
			return xerrors.Wrapf(err, "insert metadata %s", name)
		}
	}
	return xerrors.Wrap(tx.Commit(), "commit metadata write")
}
