package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/dashprobe/internal/model"
)

const testOpenDatabaseFailureMessage = "open failure"

func TestOpenDatabaseWrapsOpenerError(testingT *testing.T) {
	originalOpeners := databaseOpeners
	testingT.Cleanup(func() {
		databaseOpeners = originalOpeners
	})

	databaseOpeners = map[string]databaseOpener{
		DriverNameSQLite: func(Config) (*gorm.DB, error) {
			return nil, errors.New(testOpenDatabaseFailureMessage)
		},
	}

	_, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: "file:invalid",
	})
	require.Error(testingT, openErr)
	require.Contains(testingT, openErr.Error(), errorMessageOpenDatabase)
	require.Contains(testingT, openErr.Error(), testOpenDatabaseFailureMessage)
}

func TestOpenSQLiteDatabaseReportsOpenError(testingT *testing.T) {
	tempDirectory := testingT.TempDir()
	missingDirectory := filepath.Join(tempDirectory, "missing")
	dataSourceName := fmt.Sprintf("file:%s?mode=rw&_foreign_keys=on", filepath.Join(missingDirectory, "test.db"))

	database, openErr := openSQLiteDatabase(Config{DataSourceName: dataSourceName})
	if openErr == nil {
		// The driver may defer the failure to the first statement.
		openErr = AutoMigrate(database)
	}
	require.Error(testingT, openErr)
}

func TestAutoMigrateReportsErrorOnClosedDatabase(testingT *testing.T) {
	dataSourceName := fmt.Sprintf(InMemoryDataSourceNameFormat, strings.ReplaceAll(testingT.Name(), "/", "_"))
	database, openErr := OpenDatabase(Config{
		DriverName:     DriverNameSQLite,
		DataSourceName: dataSourceName,
	})
	require.NoError(testingT, openErr)

	sqlDatabase, sqlErr := database.DB()
	require.NoError(testingT, sqlErr)
	require.NoError(testingT, sqlDatabase.Close())

	migrateErr := AutoMigrate(database)
	require.ErrorContains(testingT, migrateErr, errorMessageMigrateDatabase)
}

func TestOpenSQLiteDatabaseRequiresDataSourceName(testingT *testing.T) {
	database, openErr := openSQLiteDatabase(Config{DriverName: DriverNameSQLite})
	require.ErrorIs(testingT, openErr, ErrMissingDataSourceName)
	require.Nil(testingT, database)
}

func TestPrepareDashboardFillsMissingFields(testingT *testing.T) {
	dashboard := dashboardWithMapChart("Test FILTER JS")

	prepareDashboard(&dashboard, 4)

	require.NotEmpty(testingT, dashboard.ID)
	require.Equal(testingT, "test-filter-js", dashboard.Slug)
	require.Equal(testingT, 4, dashboard.Position)
	require.Equal(testingT, dashboard.ID, dashboard.Charts[0].DashboardID)
	require.Equal(testingT, 1, dashboard.Charts[0].Position)
	require.Equal(testingT, dashboard.Charts[0].ID, dashboard.Charts[0].Features[0].ChartID)
	require.NotEmpty(testingT, dashboard.Charts[0].Features[0].ID)
}

func dashboardWithMapChart(title string) model.Dashboard {
	return model.Dashboard{
		Title: title,
		Charts: []model.Chart{{
			ElementID: 1314,
			Name:      "JS Knoten Carto",
			Kind:      model.ChartKindMap,
			Features: []model.MapFeature{{
				Label:  "Knoten 7",
				Column: "objectid",
				Value:  "7",
				X:      0.5,
				Y:      0.5,
				Radius: 8,
			}},
		}},
	}
}
