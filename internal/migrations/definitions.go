package migrations

import (
	"gorm.io/gorm"
)

// getAllMigrations returns all migration definitions in chronological order
func getAllMigrations() []MigrationDefinition {
	return []MigrationDefinition{
		{
			ID:          "20250301000001",
			Description: "Create systems table",
			Up:          createSystemsTable,
			Down:        dropSystemsTable,
		},
		{
			ID:          "20250301000002",
			Description: "Create peers table",
			Up:          createPeersTable,
			Down:        dropPeersTable,
		},
		{
			ID:          "20250301000003",
			Description: "Create hosts table",
			Up:          createHostsTable,
			Down:        dropHostsTable,
		},
	}
}

// createSystemsTable creates the systems table
func createSystemsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE IF NOT EXISTS systems (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL UNIQUE,
		mode TEXT DEFAULT 'duplex' NOT NULL,
		software_version TEXT,
		initial_config_done BOOLEAN DEFAULT FALSE NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_systems_deleted_at ON systems(deleted_at);
	`
	return db.Exec(sql).Error
}

// dropSystemsTable drops the systems table
func dropSystemsTable(db *gorm.DB) error {
	return db.Exec("DROP TABLE IF EXISTS systems").Error
}

// createPeersTable creates the peers table
func createPeersTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE IF NOT EXISTS peers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL UNIQUE,
		status TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_peers_deleted_at ON peers(deleted_at);
	`
	return db.Exec(sql).Error
}

// dropPeersTable drops the peers table
func dropPeersTable(db *gorm.DB) error {
	return db.Exec("DROP TABLE IF EXISTS peers").Error
}

// createHostsTable creates the hosts table
func createHostsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE IF NOT EXISTS hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		hostname TEXT UNIQUE,
		personality TEXT,
		subfunctions TEXT,
		administrative TEXT DEFAULT 'locked' NOT NULL,
		operational TEXT DEFAULT 'disabled' NOT NULL,
		availability TEXT DEFAULT 'offline' NOT NULL,
		inflight_action TEXT DEFAULT '' NOT NULL,
		task TEXT,
		invprovision TEXT DEFAULT 'unprovisioned' NOT NULL,
		vim_progress_status TEXT,
		controller_role TEXT,
		mgmt_ip TEXT,
		mgmt_mac TEXT,
		bm_type TEXT,
		bm_ip TEXT,
		bm_username TEXT,
		peer_id INTEGER REFERENCES peers(id),
		config_status TEXT,
		config_applied TEXT,
		config_target TEXT,
		clock_sync TEXT DEFAULT 'ntp',
		uptime INTEGER DEFAULT 0,
		location TEXT,
		serial_num TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_hosts_uuid ON hosts(uuid);
	CREATE INDEX IF NOT EXISTS idx_hosts_personality ON hosts(personality);
	CREATE INDEX IF NOT EXISTS idx_hosts_peer_id ON hosts(peer_id);
	CREATE INDEX IF NOT EXISTS idx_hosts_deleted_at ON hosts(deleted_at);
	`
	return db.Exec(sql).Error
}

// dropHostsTable drops the hosts table
func dropHostsTable(db *gorm.DB) error {
	return db.Exec("DROP TABLE IF EXISTS hosts").Error
}
