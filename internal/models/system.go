package models

import (
	"time"

	"gorm.io/gorm"
)

// System holds fleet-wide settings that gate host actions
type System struct {
	ID   uint       `json:"id" gorm:"primarykey"`
	UUID string     `json:"uuid" gorm:"uniqueIndex;not null"`
	Name string     `json:"name" gorm:"uniqueIndex;not null"`
	Mode SystemMode `json:"system_mode" gorm:"default:'duplex'"`

	// Software version currently deployed; compared against host config
	// targets during upgrade windows
	SoftwareVersion string `json:"software_version"`

	// InitialConfigDone flips when the first controller completes its first
	// enablement and the default configuration has been persisted
	InitialConfigDone bool `json:"initial_config_done" gorm:"default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// SystemMode describes the controller topology
type SystemMode string

const (
	// SystemModeSimplex is a single all-in-one controller. Reboot, reset,
	// power and swact actions are refused in this mode because there is no
	// peer to take over.
	SystemModeSimplex SystemMode = "simplex"

	// SystemModeDuplex is a redundant controller pair
	SystemModeDuplex SystemMode = "duplex"
)

// IsSimplex returns true for a single-controller system
func (s *System) IsSimplex() bool {
	return s.Mode == SystemModeSimplex
}

// TableName returns the table name for the System model
func (System) TableName() string {
	return "systems"
}

// Peer groups hosts into an HA replication set, such as a storage
// replication pair or the controller pair
type Peer struct {
	ID   uint   `json:"id" gorm:"primarykey"`
	UUID string `json:"uuid" gorm:"uniqueIndex;not null"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`

	// Status is updated as peers enter and leave recovery
	Status string `json:"status"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Hosts []Host `json:"hosts,omitempty" gorm:"foreignKey:PeerID"`
}

// Peer status values
const (
	PeerStatusProvisioned = "provisioned"
	PeerStatusRecovering  = "recovering"
)

// TableName returns the table name for the Peer model
func (Peer) TableName() string {
	return "peers"
}
