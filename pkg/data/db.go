package data

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "walletscore.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	migrationsDir = "migrations"
)

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	// goose keeps its base FS and dialect in package state
	gooseMu sync.Mutex

	errDBNotInitialized = errors.New("database not initialized")
)

func init() {
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// IsPostgres reports whether dsn is a Postgres connection URL.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func driverFor(dsn string) string {
	if IsPostgres(dsn) {
		return driverPostgres
	}
	return driverSQLite
}

// Init creates the database if needed and applies pending migrations.
func Init(dsn string) error {
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	return db.Close()
}

// Open connects to dsn and migrates the schema. dsn is a SQLite file path
// or a postgres:// URL.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := GetDB(dsn)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// GetDB connects to dsn without touching the schema.
func GetDB(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("database path not specified")
	}

	db, err := sqlx.Open(driverFor(dsn), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate applies all embedded migrations.
func Migrate(db *sqlx.DB) error {
	if db == nil {
		return errDBNotInitialized
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setupGoose(db); err != nil {
		return err
	}

	if err := goose.Up(db.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	v, err := goose.GetDBVersion(db.DB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	slog.Debug("db schema ready", "version", v)

	return nil
}

// SchemaVersion returns the applied migration version.
func SchemaVersion(db *sqlx.DB) (int64, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setupGoose(db); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db.DB)
}

func setupGoose(db *sqlx.DB) error {
	dialect := "sqlite3"
	if db.DriverName() == driverPostgres {
		dialect = "postgres"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect %s: %w", dialect, err)
	}
	return nil
}

// Reset deletes all history. SQLite files are removed and recreated,
// Postgres schemas are migrated down and back up.
func Reset(dsn string) error {
	if dsn == "" {
		return errors.New("database path not specified")
	}

	if !IsPostgres(dsn) {
		if err := os.Remove(dsn); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting database: %w", err)
		}
		slog.Info("database deleted", "path", dsn)
		return Init(dsn)
	}

	db, err := GetDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := setupGoose(db); err != nil {
		return err
	}
	if err := goose.Reset(db.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	if err := goose.Up(db.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("database reset", "dsn", Redact(dsn))
	return nil
}

// Redact hides the password in a connection URL.
func Redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		creds = creds[:i] + ":***"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}

func rollbackTransaction(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		slog.Error("error rolling back transaction", "error", err)
	}
}
