package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stratacloud/host-controller/internal/errors"
	applogger "github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/migrations"
	"github.com/stratacloud/host-controller/internal/models"
)

// Database wraps the GORM connection to the host record store. It holds host
// state and nothing else: all business logic lives above it.
type Database struct {
	db     *gorm.DB
	logger applogger.Interface
}

// Config holds database configuration
type Config struct {
	Path            string `yaml:"path"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	LogLevel        string `yaml:"log_level"`
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Path:            "data/host-controller.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: "5m",
		LogLevel:        "warn",
	}
}

// New creates a new database connection and runs migrations
func New(config *Config, log applogger.Interface) (*Database, error) {
	database, err := open(config, log)
	if err != nil {
		return nil, err
	}
	if err := database.migrate(); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate database")
	}
	log.WithField("path", config.Path).Info("Database connection established")
	return database, nil
}

// NewWithoutMigration creates a connection without running migrations, for
// commands that manage migrations explicitly
func NewWithoutMigration(config *Config, log applogger.Interface) (*Database, error) {
	database, err := open(config, log)
	if err != nil {
		return nil, err
	}
	log.WithField("path", config.Path).Info("Database connection established (without migrations)")
	return database, nil
}

func open(config *Config, log applogger.Interface) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := ensureDirExists(filepath.Dir(config.Path)); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory")
	}

	gormLog := log.WithField("component", "database")
	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: &gormSlogAdapter{logger: gormLog},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get underlying sql.DB")
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	if config.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(config.ConnMaxLifetime)
		if err != nil {
			log.Warnf("Invalid conn_max_lifetime '%s', using default 5m", config.ConnMaxLifetime)
			duration = 5 * time.Minute
		}
		sqlDB.SetConnMaxLifetime(duration)
	}

	return &Database{db: db, logger: log}, nil
}

// DB returns the underlying GORM database instance
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database connectivity
func (d *Database) Health() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// migrate runs database migrations
func (d *Database) migrate() error {
	d.logger.Info("Running database migrations")

	migrator := migrations.NewMigrator(d.db, d.logger)
	if err := migrator.ValidateMigrationOrder(); err != nil {
		return errors.Wrapf(err, "migration validation failed")
	}
	if err := migrator.Up(); err != nil {
		return errors.Wrapf(err, "failed to run migrations")
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}

// WithTx executes a function within a transaction
func (d *Database) WithTx(fn func(tx *gorm.DB) error) error {
	tx := d.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// ensureDirExists creates directory if it doesn't exist
func ensureDirExists(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// gormSlogAdapter adapts our structured logger to the GORM logger interface
type gormSlogAdapter struct {
	logger applogger.Interface
}

func (g *gormSlogAdapter) LogMode(level logger.LogLevel) logger.Interface {
	return g
}

func (g *gormSlogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	g.logger.Infof(msg, data...)
}

func (g *gormSlogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	g.logger.Warnf(msg, data...)
}

func (g *gormSlogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	g.logger.Errorf(msg, data...)
}

func (g *gormSlogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := map[string]interface{}{
		"duration": elapsed.String(),
		"rows":     rows,
		"sql":      sql,
	}

	if err != nil {
		g.logger.WithFields(fields).WithError(err).Error("Database query failed")
	} else {
		g.logger.WithFields(fields).Debug("Database query executed")
	}
}

// NewForTest creates an in-memory database with the schema applied, for tests
func NewForTest(log applogger.Interface) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: &gormSlogAdapter{logger: log.WithField("component", "database")},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to test database")
	}

	if err := db.AutoMigrate(&models.System{}, &models.Peer{}, &models.Host{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate test database")
	}

	return &Database{db: db, logger: log}, nil
}

// NewForTestWithDB creates a Database around an existing gorm.DB for tests
func NewForTestWithDB(db *gorm.DB, log applogger.Interface) *Database {
	return &Database{db: db, logger: log}
}

// Host record operations

// CreateHost inserts a new host record
func (d *Database) CreateHost(host *models.Host) error {
	return d.db.Create(host).Error
}

// GetHost retrieves a host by ID
func (d *Database) GetHost(id uint) (*models.Host, error) {
	var host models.Host
	if err := d.db.First(&host, id).Error; err != nil {
		return nil, err
	}
	return &host, nil
}

// GetHostByUUID retrieves a host by its external UUID
func (d *Database) GetHostByUUID(uuid string) (*models.Host, error) {
	var host models.Host
	if err := d.db.Where("uuid = ?", uuid).First(&host).Error; err != nil {
		return nil, err
	}
	return &host, nil
}

// GetHostByHostname retrieves a host by hostname
func (d *Database) GetHostByHostname(hostname string) (*models.Host, error) {
	var host models.Host
	if err := d.db.Where("hostname = ?", hostname).First(&host).Error; err != nil {
		return nil, err
	}
	return &host, nil
}

// GetHosts retrieves all host records
func (d *Database) GetHosts() ([]models.Host, error) {
	var hosts []models.Host
	err := d.db.Find(&hosts).Error
	return hosts, err
}

// GetHostsByPersonality retrieves every host with the given personality
func (d *Database) GetHostsByPersonality(p models.Personality) ([]models.Host, error) {
	var hosts []models.Host
	err := d.db.Where("personality = ?", p).Find(&hosts).Error
	return hosts, err
}

// GetHostsByPeerID retrieves the members of a replication peer set
func (d *Database) GetHostsByPeerID(peerID uint) ([]models.Host, error) {
	var hosts []models.Host
	err := d.db.Where("peer_id = ?", peerID).Find(&hosts).Error
	return hosts, err
}

// UpdateHost writes back a mutated host record
func (d *Database) UpdateHost(host *models.Host) error {
	return d.db.Save(host).Error
}

// DeleteHost removes a host record
func (d *Database) DeleteHost(id uint) error {
	return d.db.Delete(&models.Host{}, id).Error
}

// System record operations

// GetSystem retrieves the system record; there is exactly one
func (d *Database) GetSystem() (*models.System, error) {
	var system models.System
	if err := d.db.First(&system).Error; err != nil {
		return nil, err
	}
	return &system, nil
}

// CreateSystem inserts the system record
func (d *Database) CreateSystem(system *models.System) error {
	return d.db.Create(system).Error
}

// UpdateSystem writes back the system record
func (d *Database) UpdateSystem(system *models.System) error {
	return d.db.Save(system).Error
}

// Peer set operations

// CreatePeer inserts a replication peer set
func (d *Database) CreatePeer(peer *models.Peer) error {
	return d.db.Create(peer).Error
}

// GetPeer retrieves a peer set by ID
func (d *Database) GetPeer(id uint) (*models.Peer, error) {
	var peer models.Peer
	if err := d.db.First(&peer, id).Error; err != nil {
		return nil, err
	}
	return &peer, nil
}
