// Package store persists credentials and reads the application directory
// from a relational database (SQLite or PostgreSQL) through GORM.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"sheetledger/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps the GORM handle together with its driver name
type DB struct {
	*gorm.DB
	driver string
}

// Open connects to the configured database and applies pool settings.
// SQLite runs over the pure-Go modernc driver with WAL enabled.
func Open(ctx context.Context, cfg config.StoreConfig) (*DB, error) {
	gcfg := &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	driver := strings.ToLower(cfg.Driver)
	var (
		gdb *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		gdb, err = gorm.Open(gormsqlite.Dialector{DriverName: "sqlite", DSN: cfg.DSN}, gcfg)
	case "postgres":
		gdb, err = gorm.Open(postgres.Open(cfg.DSN), gcfg)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if driver == "sqlite" {
		// One connection keeps pragmas in effect and serializes writers
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		if err := applyPragmas(sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	} else {
		if cfg.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConns)
			sqlDB.SetMaxIdleConns(max(cfg.MaxConns/2, 1))
		}
		sqlDB.SetConnMaxIdleTime(15 * time.Minute)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	slog.Default().InfoContext(ctx, "store connected", slog.String("driver", driver))
	return &DB{DB: gdb, driver: driver}, nil
}

func applyPragmas(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Migrate applies the embedded goose migrations
func (db *DB) Migrate(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("gorm sql db: %w", err)
	}

	dialect := "sqlite3"
	if db.driver == "postgres" {
		dialect = "postgres"
	}

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying pool
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
