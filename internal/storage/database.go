// Package storage keeps the fixture application's dashboards, charts and map features in a
// GORM database. Each fixture server owns a private in-memory SQLite database.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/model"
)

const (
	// DriverNameSQLite selects the pure Go SQLite driver that backs the fixture store.
	DriverNameSQLite = "sqlite"
	// InMemoryDataSourceNameFormat names an in-memory SQLite database shared by the connections of
	// one fixture server.
	InMemoryDataSourceNameFormat = "file:%s?mode=memory&cache=shared&_foreign_keys=on"

	errorMessageMissingDatabaseDriverName = "storage: missing database driver name"
	errorMessageUnsupportedDatabaseDriver = "storage: unsupported database driver"
	errorMessageMissingDataSourceName     = "storage: missing database data source name"
	errorMessageOpenDatabase              = "storage: open database"
	errorMessageOpenSQLiteDatabase        = "storage: open sqlite database"
	errorMessageMigrateDatabase           = "storage: migrate database"
	inMemoryDatabaseNamePrefix            = "dashprobe"
)

var (
	// ErrMissingDatabaseDriverName reports fixture options without a store driver.
	ErrMissingDatabaseDriverName = errors.New(errorMessageMissingDatabaseDriverName)
	// ErrUnsupportedDatabaseDriver reports a store driver other than sqlite.
	ErrUnsupportedDatabaseDriver = errors.New(errorMessageUnsupportedDatabaseDriver)
	// ErrMissingDataSourceName reports fixture options without a data source name.
	ErrMissingDataSourceName = errors.New(errorMessageMissingDataSourceName)
)

type databaseOpener func(Config) (*gorm.DB, error)

var databaseOpeners = map[string]databaseOpener{
	DriverNameSQLite: openSQLiteDatabase,
}

// Config locates the fixture store. fixtureapp.Options carries one.
type Config struct {
	DriverName     string
	DataSourceName string
}

// InMemoryConfig returns a store no other fixture server or test can see.
func InMemoryConfig() Config {
	databaseName := fmt.Sprintf("%s-%s", inMemoryDatabaseNamePrefix, NewID())
	return Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: fmt.Sprintf(InMemoryDataSourceNameFormat, databaseName),
	}
}

// OpenDatabase opens the fixture store. Callers migrate it with AutoMigrate before seeding.
func OpenDatabase(configuration Config) (*gorm.DB, error) {
	trimmedDriverName := strings.TrimSpace(configuration.DriverName)
	if trimmedDriverName == "" {
		return nil, ErrMissingDatabaseDriverName
	}

	opener, driverSupported := databaseOpeners[trimmedDriverName]
	if !driverSupported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabaseDriver, trimmedDriverName)
	}

	database, openErr := opener(Config{
		DriverName:     trimmedDriverName,
		DataSourceName: strings.TrimSpace(configuration.DataSourceName),
	})
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenDatabase, openErr)
	}

	return database, nil
}

func openSQLiteDatabase(configuration Config) (*gorm.DB, error) {
	if configuration.DataSourceName == "" {
		return nil, ErrMissingDataSourceName
	}

	database, openErr := gorm.Open(sqlite.Open(configuration.DataSourceName), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenSQLiteDatabase, openErr)
	}

	return database, nil
}

// AutoMigrate creates the dashboard, chart and map feature tables.
func AutoMigrate(database *gorm.DB) error {
	if migrateErr := database.AutoMigrate(&model.Dashboard{}, &model.Chart{}, &model.MapFeature{}); migrateErr != nil {
		return fmt.Errorf("%s: %w", errorMessageMigrateDatabase, migrateErr)
	}
	return nil
}

// NewID returns a random identifier for seeded rows and in-memory database names.
func NewID() string {
	return uuid.NewString()
}
