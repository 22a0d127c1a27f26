// Package migrations manages versioned schema changes for the host record
// store.
package migrations

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/stratacloud/host-controller/internal/logger"
)

// Migration is the bookkeeping row recording an applied migration
type Migration struct {
	ID          string    `gorm:"primaryKey"`
	AppliedAt   time.Time `gorm:"not null"`
	Description string    `gorm:"not null"`
}

// MigrationFunc applies or reverts one schema change
type MigrationFunc func(*gorm.DB) error

// MigrationDefinition pairs a schema change with its rollback
type MigrationDefinition struct {
	ID          string
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// Migrator applies migrations in ID order, each inside a transaction
type Migrator struct {
	db         *gorm.DB
	logger     logger.Interface
	migrations []MigrationDefinition
}

// NewMigrator creates a migration manager over the full migration set
func NewMigrator(db *gorm.DB, log logger.Interface) *Migrator {
	return &Migrator{
		db:         db,
		logger:     log,
		migrations: getAllMigrations(),
	}
}

// EnsureMigrationTable creates the bookkeeping table if it doesn't exist
func (m *Migrator) EnsureMigrationTable() error {
	if err := m.db.AutoMigrate(&Migration{}); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

// appliedSet returns the IDs of already-applied migrations
func (m *Migrator) appliedSet() (map[string]Migration, error) {
	var applied []Migration
	if err := m.db.Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	set := make(map[string]Migration, len(applied))
	for _, mig := range applied {
		set[mig.ID] = mig
	}
	return set, nil
}

// Up applies all pending migrations in order
func (m *Migrator) Up() error {
	if err := m.EnsureMigrationTable(); err != nil {
		return err
	}
	applied, err := m.appliedSet()
	if err != nil {
		return err
	}

	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].ID < m.migrations[j].ID
	})

	for _, migration := range m.migrations {
		if _, done := applied[migration.ID]; done {
			m.logger.Debug("Migration already applied", "id", migration.ID)
			continue
		}

		m.logger.Info("Applying migration", "id", migration.ID, "description", migration.Description)
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %s failed: %w", migration.ID, err)
			}
			record := Migration{
				ID:          migration.ID,
				AppliedAt:   time.Now(),
				Description: migration.Description,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to record migration %s: %w", migration.ID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.logger.Info("Migration applied successfully", "id", migration.ID)
	}
	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down() error {
	if err := m.EnsureMigrationTable(); err != nil {
		return err
	}

	var last Migration
	if err := m.db.Order("applied_at DESC").First(&last).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			m.logger.Info("No migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to get last migration: %w", err)
	}

	var def *MigrationDefinition
	for i := range m.migrations {
		if m.migrations[i].ID == last.ID {
			def = &m.migrations[i]
			break
		}
	}
	if def == nil {
		return fmt.Errorf("migration definition not found for ID: %s", last.ID)
	}

	m.logger.Info("Rolling back migration", "id", def.ID, "description", def.Description)
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := def.Down(tx); err != nil {
			return fmt.Errorf("rollback for migration %s failed: %w", def.ID, err)
		}
		if err := tx.Delete(&Migration{}, "id = ?", def.ID).Error; err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", def.ID, err)
		}
		return nil
	})
}

// MigrationStatus reports whether one migration has been applied
type MigrationStatus struct {
	ID          string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Status lists every known migration and whether it has been applied
func (m *Migrator) Status() ([]MigrationStatus, error) {
	if err := m.EnsureMigrationTable(); err != nil {
		return nil, err
	}
	applied, err := m.appliedSet()
	if err != nil {
		return nil, err
	}

	var statuses []MigrationStatus
	for _, migration := range m.migrations {
		status := MigrationStatus{
			ID:          migration.ID,
			Description: migration.Description,
		}
		if rec, ok := applied[migration.ID]; ok {
			status.Applied = true
			status.AppliedAt = &rec.AppliedAt
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses, nil
}

// ValidateMigrationOrder verifies IDs are unique, numeric timestamps
func (m *Migrator) ValidateMigrationOrder() error {
	seen := make(map[string]bool)
	for _, migration := range m.migrations {
		if len(migration.ID) != 14 {
			return fmt.Errorf("migration ID %s must be 14 characters (YYYYMMDDHHMMSS)", migration.ID)
		}
		if _, err := strconv.ParseInt(migration.ID, 10, 64); err != nil {
			return fmt.Errorf("migration ID %s must be numeric timestamp (YYYYMMDDHHMMSS)", migration.ID)
		}
		if seen[migration.ID] {
			return fmt.Errorf("duplicate migration ID: %s", migration.ID)
		}
		seen[migration.ID] = true
	}
	return nil
}
