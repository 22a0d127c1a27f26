package action

import (
	"context"

	"github.com/stratacloud/host-controller/internal/models"
)

// Check is a collaborator predicate deferred until after the pre-notify
// persist
type Check func(ctx context.Context) error

// Plan stages an admitted action as a three-phase transition: pre-notify
// values persisted before any collaborator call, the notification plan, and
// post-commit values persisted only after collaborator success.
type Plan struct {
	Action models.Action

	// PreNotify applies the durable-intent values to the record. Persisted
	// before any remote call so a crash mid-transition leaves evidence.
	PreNotify func(h *models.Host)

	// StagedChecks run after the pre-notify persist and before any
	// notification. A failure reverts the pre-notify values.
	StagedChecks []Check

	// Notification plan, executed in order: maintenance first, then the
	// orchestrator, then the conductor.
	NotifyMtce      bool
	MtceOperation   Operation
	NotifyVim       bool
	VimOperation    Operation
	NotifyConductor bool

	// VimErrorFatal marks orchestrator failures as fatal. Force variants and
	// delete proceed on orchestrator errors; a later audit reconciles.
	VimErrorFatal bool

	// PostCommit applies the values persisted after collaborator success
	PostCommit func(h *models.Host)
}

// stageLock stages lock and force-lock: mark the transition in flight, ask
// the orchestrator to evacuate, and hand the host to maintenance. The admin
// flag itself flips only when maintenance later reports disabled/offline
// through its own modify.
func (e *Engine) stageLock(req Request) *Plan {
	act := req.Action
	return &Plan{
		Action: act,
		PreNotify: func(h *models.Host) {
			h.InFlight = models.InProgress(act)
			h.Task = act.Task()
		},
		NotifyVim:     true,
		VimOperation:  OperationModify,
		VimErrorFatal: !act.IsForce(),
		NotifyMtce:    true,
		MtceOperation: OperationModify,
		PostCommit: func(h *models.Host) {
			// The in-flight marker stays set; services-disabled clears it
			// when the orchestrator closes the loop.
		},
	}
}

// stageUnlock stages unlock and force-unlock. The in-flight marker is
// persisted before the remaining collaborator predicates run.
func (e *Engine) stageUnlock(req Request) *Plan {
	act := req.Action
	return &Plan{
		Action: act,
		PreNotify: func(h *models.Host) {
			h.InFlight = models.InProgress(act)
			h.Task = act.Task()
		},
		StagedChecks:  e.stagedUnlockChecks(req),
		NotifyMtce:    true,
		MtceOperation: OperationModify,
		NotifyVim:     true,
		VimOperation:  OperationModify,
		VimErrorFatal: !act.IsForce(),
		PostCommit: func(h *models.Host) {
			// services-enabled clears the marker and completes provisioning
			// once the orchestrator admits workloads again.
		},
	}
}

// stageSwact stages swact and force-swact: maintenance coordinates the
// takeover; no admin-state change on either controller.
func (e *Engine) stageSwact(req Request) *Plan {
	act := req.Action
	return &Plan{
		Action: act,
		PreNotify: func(h *models.Host) {
			h.InFlight = models.InProgress(act)
			h.Task = act.Task()
		},
		NotifyMtce:    true,
		MtceOperation: OperationModify,
		PostCommit: func(h *models.Host) {
			h.InFlight = models.InFlight{}
			h.Task = ""
		},
	}
}

// stagePower stages reboot, reset, power-on and power-off
func (e *Engine) stagePower(req Request) *Plan {
	act := req.Action
	return &Plan{
		Action: act,
		PreNotify: func(h *models.Host) {
			h.InFlight = models.InProgress(act)
			h.Task = act.Task()
		},
		NotifyMtce:    true,
		MtceOperation: OperationModify,
		PostCommit: func(h *models.Host) {
			h.InFlight = models.InFlight{}
		},
	}
}

// stageReinstall stages reinstall. The in-flight marker is left untouched;
// the reinstall markers on the record carry the state instead.
func (e *Engine) stageReinstall(req Request) *Plan {
	return &Plan{
		Action: req.Action,
		PreNotify: func(h *models.Host) {
			h.Task = req.Action.Task()
			h.ConfigStatus = models.ConfigStatusReinstall
			h.Provision = models.Provisioning
		},
		NotifyMtce:    true,
		MtceOperation: OperationModify,
		PostCommit:    func(h *models.Host) {},
	}
}

// stageServicesDisabled closes the orchestrator side of a lock: services are
// down, tell maintenance to take the host out of service
func (e *Engine) stageServicesDisabled(req Request) *Plan {
	return &Plan{
		Action:        req.Action,
		PreNotify:     func(h *models.Host) {},
		NotifyMtce:    true,
		MtceOperation: OperationModify,
		PostCommit: func(h *models.Host) {
			h.VIMProgressStatus = string(models.ActionServicesDisabled)
			h.InFlight = models.InFlight{}
			h.Task = ""
		},
	}
}

// stageServicesEnabled closes the orchestrator side of an unlock. The first
// successful enablement completes provisioning.
func (e *Engine) stageServicesEnabled(req Request) *Plan {
	return &Plan{
		Action:    req.Action,
		PreNotify: func(h *models.Host) {},
		PostCommit: func(h *models.Host) {
			h.VIMProgressStatus = string(models.ActionServicesEnabled)
			h.InFlight = models.InFlight{}
			h.Task = ""
			if h.Provision != models.Provisioned {
				h.Provision = models.Provisioned
			}
		},
	}
}

// stageServicesDisableFailed abandons the lock in progress and leaves the
// failure visible to the operator
func (e *Engine) stageServicesDisableFailed(req Request) *Plan {
	return &Plan{
		Action:    req.Action,
		PreNotify: func(h *models.Host) {},
		PostCommit: func(h *models.Host) {
			h.VIMProgressStatus = string(models.ActionServicesDisableFailed)
			h.InFlight = models.InFlight{}
			h.Task = ""
		},
	}
}

// stageServicesDisableExtend keeps the lock window open while the
// orchestrator finishes a slow evacuation
func (e *Engine) stageServicesDisableExtend(req Request) *Plan {
	return &Plan{
		Action:    req.Action,
		PreNotify: func(h *models.Host) {},
		PostCommit: func(h *models.Host) {
			h.VIMProgressStatus = string(models.ActionServicesDisableExtend)
		},
	}
}

// stageServicesDeleteFailed records a failed orchestrator-side delete
func (e *Engine) stageServicesDeleteFailed(req Request) *Plan {
	return &Plan{
		Action:    req.Action,
		PreNotify: func(h *models.Host) {},
		PostCommit: func(h *models.Host) {
			h.VIMProgressStatus = string(models.ActionServicesDeleteFailed)
		},
	}
}

// stageSubfunctionConfig asks the conductor to apply configuration for a
// combined worker subfunction
func (e *Engine) stageSubfunctionConfig(req Request) *Plan {
	return &Plan{
		Action: req.Action,
		PreNotify: func(h *models.Host) {
			h.ConfigStatus = models.ConfigStatusOutOfDate
		},
		NotifyConductor: true,
		PostCommit: func(h *models.Host) {
			h.ConfigStatus = models.ConfigStatusNone
		},
	}
}
