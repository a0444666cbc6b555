package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

// SQLiteStore implements DataStore for SQLite
type SQLiteStore struct {
	DataStore
	Path  string
	Debug bool
}

// NewSQLiteStore returns an unopened store for the database file at path
func NewSQLiteStore(path string, debug bool) *SQLiteStore {
	return &SQLiteStore{Path: path, Debug: debug}
}

func validateSQLiteConfig(path string) error {
	if path == "" {
		return validationError("sqlite path is required", "output.sqlite.path", path)
	}
	return nil
}

// Open creates the parent directory, opens the database in WAL mode and migrates the schema
func (store *SQLiteStore) Open() error {
	if err := validateSQLiteConfig(store.Path); err != nil {
		return err
	}
	log := store.moduleLogger().Module("sqlite")

	if dir := filepath.Dir(store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", store.Path).
				Build()
		}
	}

	dsn := store.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, DefaultSlowQueryThreshold),
	})
	if err != nil {
		log.Error("failed to open SQLite database",
			logger.String("path", store.Path),
			logger.Error(err))
		return dbError(err, "open", "", "db_type", "sqlite", "path", store.Path)
	}

	// a single writer avoids SQLITE_BUSY under concurrent upserts
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	store.DB = db
	if err := store.migrate("sqlite"); err != nil {
		return err
	}

	log.Info("SQLite database opened", logger.String("path", store.Path))
	return nil
}

// Close closes the SQLite database
func (store *SQLiteStore) Close() error {
	return store.closeDB()
}
