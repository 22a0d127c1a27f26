package patch

import (
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/models"
)

// baseRestricted fields can never be patched directly, regardless of caller.
// They are assigned internally or by enrollment.
var baseRestricted = map[string]bool{
	"id":            true,
	"uuid":          true,
	"in_flight":     true,
	"invprovision":  true,
	"mgmt_ip":       true,
	"mgmt_mac":      true,
	"peer_id":       true,
	"config_status": true,
	"config_applied": true,
	"config_target":  true,
}

// maintenanceOnly fields reflect physical host state and are writable only by
// the maintenance agent
var maintenanceOnly = map[string]bool{
	"administrative":  true,
	"operational":     true,
	"availability":    true,
	"task":            true,
	"uptime":          true,
	"controller_role": true,
	"serialid":        true,
}

// orchestratorOnly fields close the loop on asynchronous orchestrator
// operations
var orchestratorOnly = map[string]bool{
	"vim_progress_status": true,
}

// enforceRestricted applies the restricted-field policy to a computed delta
func enforceRestricted(delta []string, caller CallerIdentity) error {
	for _, field := range delta {
		if baseRestricted[field] {
			return errors.NewValidationError(field, nil, "attribute cannot be modified")
		}
		if maintenanceOnly[field] && caller != CallerMaintenance {
			return errors.NewValidationError(field, nil,
				"attribute is writable only by the maintenance agent")
		}
		if orchestratorOnly[field] && caller != CallerOrchestrator {
			return errors.NewValidationError(field, nil,
				"attribute is writable only by the orchestrator")
		}
	}
	return nil
}

// enforceImmutable rejects changes to identity fields that were already set.
// Re-classifying a host requires delete and re-enrollment.
func enforceImmutable(current *models.Host, res *Result) error {
	if res.Changed("personality") && current.Personality != "" {
		return errors.NewValidationError("personality", res.Candidate.Personality,
			"personality cannot be changed once set; delete and re-enroll the host")
	}
	if res.Changed("hostname") && current.Hostname != "" {
		return errors.NewValidationError("hostname", res.Candidate.Hostname,
			"hostname cannot be changed once set; delete and re-enroll the host")
	}
	if res.Changed("subfunctions") && current.Subfunctions != "" {
		return errors.NewValidationError("subfunctions", res.Candidate.Subfunctions,
			"subfunctions cannot be changed once set; delete and re-enroll the host")
	}
	return nil
}
