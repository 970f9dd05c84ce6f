package testutil

import (
	"log"
	"strings"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/storage"
)

// SQLiteTestDatabase provides helpers for configuring temporary SQLite databases in tests.
type SQLiteTestDatabase struct {
	configuration storage.Config
}

type testingLogWriter struct {
	testingT testing.TB
}

func (writer testingLogWriter) Write(data []byte) (int, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" {
		writer.testingT.Log(trimmed)
	}
	return len(data), nil
}

// NewSQLiteTestDatabase creates a SQLiteTestDatabase with a unique in-memory database configuration.
func NewSQLiteTestDatabase(testingT testing.TB) SQLiteTestDatabase {
	testingT.Helper()
	return SQLiteTestDatabase{configuration: storage.InMemoryConfig()}
}

// Configuration returns the storage configuration for the temporary SQLite database.
func (database SQLiteTestDatabase) Configuration() storage.Config {
	return database.configuration
}

// DataSourceName returns the SQLite data source name for the temporary database.
func (database SQLiteTestDatabase) DataSourceName() string {
	return database.configuration.DataSourceName
}

// Open opens and migrates the database, logs errors through the test, and closes it on cleanup.
func (database SQLiteTestDatabase) Open(testingT testing.TB) *gorm.DB {
	testingT.Helper()
	connection, openErr := storage.OpenDatabase(database.configuration)
	if openErr != nil {
		testingT.Fatalf("open test database: %v", openErr)
	}
	connection = ConfigureDatabaseLogger(testingT, connection)
	if migrateErr := storage.AutoMigrate(connection); migrateErr != nil {
		testingT.Fatalf("migrate test database: %v", migrateErr)
	}
	testingT.Cleanup(func() {
		if sqlDatabase, sqlErr := connection.DB(); sqlErr == nil {
			_ = sqlDatabase.Close()
		}
	})
	return connection
}

// ConfigureDatabaseLogger returns a database session that suppresses record-not-found logs during tests.
func ConfigureDatabaseLogger(testingT testing.TB, database *gorm.DB) *gorm.DB {
	testingT.Helper()
	if database == nil {
		testingT.Fatalf("configure database logger: nil database")
	}
	gormLogger := logger.New(
		log.New(testingLogWriter{testingT: testingT}, "", 0),
		logger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  logger.Error,
		},
	)
	return database.Session(&gorm.Session{Logger: gormLogger})
}
