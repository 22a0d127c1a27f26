package testing

import (
	"database/sql/driver"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stratacloud/host-controller/internal/models"
)

// TestDB holds a test database connection and mock
type TestDB struct {
	DB   *gorm.DB
	Mock sqlmock.Sqlmock
}

// SetupTestDB creates a test database instance with mocking capabilities
func SetupTestDB(t *testing.T) *TestDB {
	_, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return &TestDB{
		DB:   gormDB,
		Mock: mock,
	}
}

// SetupTestDBFile creates a real SQLite test database file with the schema
// migrated
func SetupTestDBFile(t *testing.T) *gorm.DB {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.System{},
		&models.Peer{},
		&models.Host{},
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

// Close closes the test database and verifies mock expectations
func (tdb *TestDB) Close(t *testing.T) {
	sqlDB, err := tdb.DB.DB()
	require.NoError(t, err)
	sqlDB.Close()
	require.NoError(t, tdb.Mock.ExpectationsWereMet())
}

// AnyTime is a mock argument matcher for any time value
type AnyTime struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// NewTestSystem creates a duplex system record for tests
func NewTestSystem() *models.System {
	return &models.System{
		ID:                1,
		Mode:              models.SystemModeDuplex,
		SoftwareVersion:   "25.03",
		InitialConfigDone: true,
	}
}

// NewTestController creates a provisioned controller record for tests
func NewTestController(role models.ControllerRole) *models.Host {
	return &models.Host{
		UUID:           uuid.New().String(),
		Hostname:       "controller-0",
		Personality:    models.PersonalityController,
		Administrative: models.AdminUnlocked,
		Operational:    models.OperEnabled,
		Availability:   models.AvailabilityAvailable,
		Provision:      models.Provisioned,
		ControllerRole: role,
		MgmtIP:         "192.168.204.2",
		MgmtMAC:        "08:00:27:00:00:01",
	}
}

// NewTestWorker creates a provisioned worker record for tests
func NewTestWorker(hostname string) *models.Host {
	return &models.Host{
		UUID:           uuid.New().String(),
		Hostname:       hostname,
		Personality:    models.PersonalityWorker,
		Administrative: models.AdminLocked,
		Operational:    models.OperDisabled,
		Availability:   models.AvailabilityOnline,
		Provision:      models.Provisioned,
		MgmtIP:         "192.168.204.12",
		MgmtMAC:        "08:00:27:00:00:12",
	}
}
