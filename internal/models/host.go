package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Host represents a physical host under administrative control
type Host struct {
	ID       uint   `json:"id" gorm:"primarykey"`
	UUID     string `json:"uuid" gorm:"uniqueIndex;not null"`
	Hostname string `json:"hostname" gorm:"uniqueIndex"`

	// Classification. Personality and subfunctions are immutable once set;
	// changing them requires delete and re-enrollment.
	Personality  Personality `json:"personality" validate:"omitempty,oneof=controller worker storage edgeworker"`
	Subfunctions string      `json:"subfunctions"`

	// Administrative / runtime state
	Administrative AdminState   `json:"administrative" gorm:"default:'locked'" validate:"omitempty,oneof=locked unlocked"`
	Operational    OperState    `json:"operational" gorm:"default:'disabled'" validate:"omitempty,oneof=enabled disabled"`
	Availability   Availability `json:"availability" gorm:"default:'offline'" validate:"omitempty,oneof=available online offline degraded intest poweroff power-on power-off failed"`

	// InFlight holds the action currently executing against this host. It is
	// persisted before any collaborator is notified so that a crash
	// mid-transition leaves discoverable evidence of intent.
	InFlight InFlight `json:"in_flight" gorm:"column:inflight_action"`

	// Task is the operator-visible progress string derived from InFlight
	Task string `json:"task"`

	// Provisioning progress. Monotonic except for explicit deprovision.
	Provision ProvisionState `json:"invprovision" gorm:"column:invprovision;default:'unprovisioned'" validate:"omitempty,oneof=unprovisioned provisioning provisioned"`

	// VIMProgressStatus is the last status reported by the workload
	// orchestrator for an asynchronous disable/enable
	VIMProgressStatus string `json:"vim_progress_status"`

	// ControllerRole distinguishes the active controller from its standby
	// peer. Only meaningful for controller personality; maintained by the
	// maintenance agent.
	ControllerRole ControllerRole `json:"controller_role" validate:"omitempty,oneof=active standby"`

	// Management network identity
	MgmtIP  string `json:"mgmt_ip"`
	MgmtMAC string `json:"mgmt_mac"`

	// Board management credentials. The password is write-only; it is never
	// stored on the record and never round-tripped in responses.
	BMType     string `json:"bm_type"`
	BMIP       string `json:"bm_ip"`
	BMUsername string `json:"bm_username"`

	// PeerID groups hosts into HA replication sets
	PeerID *uint `json:"peer_id,omitempty"`

	// Config tracking
	ConfigStatus  string `json:"config_status"`
	ConfigApplied string `json:"config_applied"`
	ConfigTarget  string `json:"config_target"`

	// Clock synchronization source for this host
	ClockSync ClockSync `json:"clock_synchronization" gorm:"default:'ntp'" validate:"omitempty,oneof=ntp ptp"`

	Uptime    int64          `json:"uptime"`
	Location  string         `json:"location"`
	SerialNum string         `json:"serialid"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Peer *Peer `json:"peer,omitempty" gorm:"foreignKey:PeerID"`
}

// Personality classifies what role a host plays in the cluster
type Personality string

const (
	PersonalityController Personality = "controller"
	PersonalityWorker     Personality = "worker"
	PersonalityStorage    Personality = "storage"
	PersonalityEdgeworker Personality = "edgeworker"
)

// Personalities lists every valid personality value
var Personalities = []Personality{
	PersonalityController,
	PersonalityWorker,
	PersonalityStorage,
	PersonalityEdgeworker,
}

// AdminState is the operator-intended state of a host
type AdminState string

const (
	AdminLocked   AdminState = "locked"
	AdminUnlocked AdminState = "unlocked"
)

// OperState is the actual readiness reported by the maintenance agent
type OperState string

const (
	OperEnabled  OperState = "enabled"
	OperDisabled OperState = "disabled"
)

// Availability is the finer-grained runtime status of a host
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityOnline    Availability = "online"
	AvailabilityOffline   Availability = "offline"
	AvailabilityDegraded  Availability = "degraded"
	AvailabilityInTest    Availability = "intest"
	AvailabilityPowerOff  Availability = "poweroff"
	AvailabilityPowerOn   Availability = "power-on"
	AvailabilityFailed    Availability = "failed"
)

// ProvisionState tracks one-time host provisioning progress
type ProvisionState string

const (
	Unprovisioned ProvisionState = "unprovisioned"
	Provisioning  ProvisionState = "provisioning"
	Provisioned   ProvisionState = "provisioned"
)

// ControllerRole distinguishes the active controller from the standby
type ControllerRole string

const (
	ControllerRoleNone    ControllerRole = ""
	ControllerRoleActive  ControllerRole = "active"
	ControllerRoleStandby ControllerRole = "standby"
)

// ClockSync selects the clock synchronization source for a host
type ClockSync string

const (
	ClockSyncNTP ClockSync = "ntp"
	ClockSyncPTP ClockSync = "ptp"
)

// Action is an administrative action token accepted on the /action path
type Action string

const (
	ActionNone        Action = "none"
	ActionLock        Action = "lock"
	ActionForceLock   Action = "force-lock"
	ActionUnlock      Action = "unlock"
	ActionForceUnlock Action = "force-unlock"
	ActionSwact       Action = "swact"
	ActionForceSwact  Action = "force-swact"
	ActionReboot      Action = "reboot"
	ActionReset       Action = "reset"
	ActionReinstall   Action = "reinstall"
	ActionPowerOn     Action = "power-on"
	ActionPowerOff    Action = "power-off"
	ActionDelete      Action = "delete"

	// Orchestrator-originated signals, not accepted from generic callers
	ActionServicesEnabled       Action = "services-enabled"
	ActionServicesDisabled      Action = "services-disabled"
	ActionServicesDisableFailed Action = "services-disable-failed"
	ActionServicesDisableExtend Action = "services-disable-extend"
	ActionServicesDeleteFailed  Action = "services-delete-failed"

	// Internal signal raised when a combined subfunction needs configuration
	ActionSubfunctionConfig Action = "subfunction-config"
)

// IsForce returns true for action variants that bypass soft preconditions
func (a Action) IsForce() bool {
	switch a {
	case ActionForceLock, ActionForceUnlock, ActionForceSwact:
		return true
	}
	return false
}

// Base strips the force variant, returning the underlying action
func (a Action) Base() Action {
	switch a {
	case ActionForceLock:
		return ActionLock
	case ActionForceUnlock:
		return ActionUnlock
	case ActionForceSwact:
		return ActionSwact
	}
	return a
}

// Task returns the operator-visible progress string for an in-flight action
func (a Action) Task() string {
	switch a {
	case ActionLock:
		return "Locking"
	case ActionForceLock:
		return "Force Locking"
	case ActionUnlock, ActionForceUnlock:
		return "Unlocking"
	case ActionReboot:
		return "Rebooting"
	case ActionReset:
		return "Resetting"
	case ActionReinstall:
		return "Reinstalling"
	case ActionPowerOn:
		return "Powering-on"
	case ActionPowerOff:
		return "Powering-off"
	case ActionSwact, ActionForceSwact:
		return "Swacting"
	}
	return ""
}

// InFlight records whether an action is currently executing against a host.
// The zero value is idle.
type InFlight struct {
	Action Action
}

// Idle returns true when no action is executing
func (f InFlight) Idle() bool {
	return f.Action == "" || f.Action == ActionNone
}

// InProgress returns an InFlight marker for the given action
func InProgress(a Action) InFlight {
	return InFlight{Action: a}
}

// Locking returns true while a lock or force-lock is executing
func (f InFlight) Locking() bool {
	return f.Action == ActionLock || f.Action == ActionForceLock
}

// Unlocking returns true while an unlock or force-unlock is executing
func (f InFlight) Unlocking() bool {
	return f.Action == ActionUnlock || f.Action == ActionForceUnlock
}

func (f InFlight) String() string {
	if f.Idle() {
		return ""
	}
	return string(f.Action)
}

// MarshalJSON renders the marker as its bare action token
func (f InFlight) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON parses the bare action token form
func (f *InFlight) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = InFlight{Action: Action(s)}
	return nil
}

// Value persists the marker as a plain string column so an operator can
// inspect a stuck transition directly in the store
func (f InFlight) Value() (driver.Value, error) {
	return f.String(), nil
}

// Scan implements sql.Scanner for the inflight_action column
func (f *InFlight) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = InFlight{}
	case string:
		*f = InFlight{Action: Action(v)}
	case []byte:
		*f = InFlight{Action: Action(v)}
	default:
		return fmt.Errorf("cannot scan %T into InFlight", src)
	}
	if f.Action == ActionNone {
		f.Action = ""
	}
	return nil
}

// IsController returns true if the host has the controller personality
func (h *Host) IsController() bool {
	return h.Personality == PersonalityController
}

// IsActiveController returns true for the currently active controller
func (h *Host) IsActiveController() bool {
	return h.IsController() && h.ControllerRole == ControllerRoleActive
}

// IsLocked returns true if the host is administratively locked
func (h *Host) IsLocked() bool {
	return h.Administrative == AdminLocked
}

// IsUnlocked returns true if the host is administratively unlocked
func (h *Host) IsUnlocked() bool {
	return h.Administrative == AdminUnlocked
}

// IsProvisioned returns true once the host has completed first-time
// provisioning
func (h *Host) IsProvisioned() bool {
	return h.Provision == Provisioned
}

// HasBoardManagement returns true if board management credentials are set
func (h *Host) HasBoardManagement() bool {
	return h.BMType != "" && h.BMType != "none"
}

// HasSubfunction reports whether the host carries the given subfunction
func (h *Host) HasSubfunction(p Personality) bool {
	for _, s := range strings.Split(h.Subfunctions, ",") {
		if Personality(strings.TrimSpace(s)) == p {
			return true
		}
	}
	return false
}

// InstallFailed reports whether the last reinstall of this host failed
func (h *Host) InstallFailed() bool {
	return h.ConfigStatus == ConfigStatusInstallFailed
}

// Config status values reported by the conductor
const (
	ConfigStatusNone          = ""
	ConfigStatusOutOfDate     = "Config out-of-date"
	ConfigStatusInstallFailed = "Install failed"
	ConfigStatusReinstall     = "Reinstall required"
)

// TableName returns the table name for the Host model
func (Host) TableName() string {
	return "hosts"
}
