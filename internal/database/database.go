package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Sentinel errors returned by lookups and inserts. They alias the gorm errors so
// callers outside this package can match them with errors.Is without importing gorm.
var (
	ErrNotFound  = gorm.ErrRecordNotFound
	ErrDuplicate = gorm.ErrDuplicatedKey
)

// Database wraps a GORM database instance and provides high-level operations
// for portal data management. It encapsulates all database interactions for
// VPN identities, sessions, audit entries, portal users and server registrations.
type Database struct {
	*gorm.DB
}

// New creates a new Database instance backed by SQLite.
// The dbPath parameter specifies the path to the SQLite database file, or
// ":memory:" for a throwaway in-process database.
// Returns a Database instance or an error if connection or migration fails.
func New(dbPath string) (*Database, error) {
	return Open(DriverSQLite, dbPath)
}

// Open creates a new Database instance for the given driver and DSN and runs
// migrations for all defined models. Duplicate-key violations are translated
// to gorm.ErrDuplicatedKey so callers can detect lost create races.
// Returns a Database instance or an error if connection or migration fails.
func Open(driver, dsn string) (*Database, error) {
	driver = strings.ToLower(driver)

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver != DriverPostgres {
		// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&User{}, &VpnUser{}, &Session{}, &AuditLog{}, &VpnServer{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close releases the underlying connection pool.
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (db *Database) Ping() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
