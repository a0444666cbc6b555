package datastore

import (
	"net"
	"time"

	drv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/logger"
)

// DefaultSlowQueryThreshold marks queries slower than this as slow in the logs.
const DefaultSlowQueryThreshold = time.Second

// MySQLStore implements DataStore for MySQL
type MySQLStore struct {
	DataStore
	Settings conf.MySQLSettings
	Debug    bool
}

// NewMySQLStore returns an unopened MySQL store
func NewMySQLStore(settings conf.MySQLSettings, debug bool) *MySQLStore {
	return &MySQLStore{Settings: settings, Debug: debug}
}

func validateMySQLConfig(s conf.MySQLSettings) error {
	switch {
	case s.Host == "":
		return validationError("mysql host is required", "output.mysql.host", s.Host)
	case s.Database == "":
		return validationError("mysql database is required", "output.mysql.database", s.Database)
	case s.Username == "":
		return validationError("mysql username is required", "output.mysql.username", s.Username)
	}
	return nil
}

// DSN builds the driver connection string. Times are stored and read as UTC.
func (store *MySQLStore) DSN() string {
	port := store.Settings.Port
	if port == "" {
		port = "3306"
	}
	cfg := drv.NewConfig()
	cfg.User = store.Settings.Username
	cfg.Passwd = store.Settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(store.Settings.Host, port)
	cfg.DBName = store.Settings.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and migrates the schema
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}
	log := store.moduleLogger().Module("mysql")

	db, err := gorm.Open(mysql.Open(store.DSN()), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, DefaultSlowQueryThreshold),
	})
	if err != nil {
		log.Error("failed to open MySQL database",
			logger.String("host", store.Settings.Host),
			logger.String("port", store.Settings.Port),
			logger.String("database", store.Settings.Database),
			logger.Error(err))
		return dbError(err, "open", "", "db_type", "mysql", "host", store.Settings.Host)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	store.DB = db
	if err := store.migrate("mysql"); err != nil {
		return err
	}

	log.Info("MySQL database opened",
		logger.String("host", store.Settings.Host),
		logger.String("database", store.Settings.Database))
	return nil
}

// Close closes the MySQL connection pool
func (store *MySQLStore) Close() error {
	return store.closeDB()
}
