package action

import (
	"context"

	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/models"
)

// checkLock guards lock and force-lock. Active-controller protection is a
// hard check: there is deliberately no force override for it.
func (e *Engine) checkLock(ctx context.Context, req Request) error {
	host := req.Host

	if !host.IsUnlocked() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host is already locked", "")
	}
	if host.IsActiveController() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host is the active controller",
			"swact to the standby controller first")
	}

	if req.Action.IsForce() {
		return nil
	}

	recovering, err := e.preds.PeerInRecovery(ctx, host)
	if err != nil {
		return errors.Wrap(err, "peer recovery check")
	}
	if recovering {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"a replication peer of this host is still recovering",
			"wait for peer recovery to complete or use force-lock")
	}

	if err := e.preds.OrchestratorPreCheck(ctx, host); err != nil {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"orchestrator rejected the lock: "+err.Error(),
			"migrate or terminate the affected workloads, or use force-lock")
	}
	return nil
}

// checkUnlock guards unlock and force-unlock. Only the hard checks run here;
// the collaborator predicates run after the in-flight marker is durable, via
// the plan's staged checks.
func (e *Engine) checkUnlock(ctx context.Context, req Request) error {
	host := req.Host

	if !host.IsLocked() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host is already unlocked", "")
	}
	if host.InstallFailed() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"the last install of this host failed",
			"reinstall the host before unlocking")
	}
	if host.Hostname == "" || host.Personality == "" {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host identity is not provisioned",
			"assign a hostname and personality before unlocking")
	}
	if host.Provision == models.Unprovisioned {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host has not been provisioned",
			"complete provisioning before unlocking")
	}
	if host.MgmtIP == "" {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host has no management address", "")
	}
	return nil
}

// stagedUnlockChecks are the collaborator predicates evaluated between the
// pre-notify persist and the maintenance call. Force-unlock skips only the
// orchestrator-app-busy and upgrade checks; the storage and interface checks
// always run.
func (e *Engine) stagedUnlockChecks(req Request) []Check {
	host := req.Host
	checks := []Check{
		func(ctx context.Context) error {
			return e.preds.StorageMonitorQuorum(ctx, host)
		},
		func(ctx context.Context) error {
			return e.preds.StorageBackendReady(ctx, host)
		},
		func(ctx context.Context) error {
			return e.preds.InterfacesProvisioned(ctx, host)
		},
	}
	if req.Action.IsForce() {
		return checks
	}
	return append(checks,
		func(ctx context.Context) error {
			busy, err := e.preds.ApplicationsBusy(ctx)
			if err != nil {
				return errors.Wrap(err, "application status check")
			}
			if busy {
				return errors.NewConflictError(host.Hostname, string(req.Action),
					"an application operation is in progress",
					"wait for it to complete or use force-unlock")
			}
			return nil
		},
		func(ctx context.Context) error {
			upgrading, err := e.preds.UpgradeInProgress(ctx)
			if err != nil {
				return errors.Wrap(err, "upgrade stage check")
			}
			if upgrading {
				return errors.NewConflictError(host.Hostname, string(req.Action),
					"the current upgrade stage forbids unlocking",
					"complete the upgrade stage or use force-unlock")
			}
			return nil
		},
	)
}

// checkSwact guards swact and force-swact
func (e *Engine) checkSwact(ctx context.Context, req Request) error {
	host := req.Host

	if !host.IsController() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"swact is only valid on a controller", "")
	}
	if req.System.IsSimplex() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"a simplex system has no standby controller", "")
	}
	peer := req.PeerController
	if peer == nil {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"no peer controller is enrolled", "")
	}

	if req.Action.IsForce() {
		return nil
	}

	if peer.Operational != models.OperEnabled {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"peer controller "+peer.Hostname+" is not enabled",
			"wait for the peer to become enabled or use force-swact")
	}
	if peer.Availability == models.AvailabilityDegraded {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"peer controller "+peer.Hostname+" is degraded",
			"resolve the degrade condition or use force-swact")
	}
	midUpdate, err := e.preds.PeerMidUpdate(ctx, peer)
	if err != nil {
		return errors.Wrap(err, "peer update check")
	}
	if midUpdate {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"peer controller "+peer.Hostname+" is applying a storage or device update",
			"wait for the update to finish")
	}
	return nil
}

// checkPower guards reboot, reset, power-on and power-off. All four actuate a
// host out from under its workloads, so they require a locked host and are
// refused on a single-node system.
func (e *Engine) checkPower(ctx context.Context, req Request) error {
	host := req.Host

	if req.System.IsSimplex() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"not permitted on a simplex system", "")
	}
	if !host.IsLocked() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host must be locked first", "lock the host and retry")
	}

	switch req.Action {
	case models.ActionPowerOn:
		if host.Availability != models.AvailabilityPowerOff &&
			host.Availability != models.AvailabilityOffline {
			return errors.NewConflictError(host.Hostname, string(req.Action),
				"host is already powered on", "")
		}
		fallthrough
	case models.ActionPowerOff:
		if !host.HasBoardManagement() {
			return errors.NewConflictError(host.Hostname, string(req.Action),
				"host has no board management configured",
				"provision board management credentials first")
		}
	}
	return nil
}

// checkReinstall guards reinstall: the host must be locked and reachable for
// reimaging, either offline or through board management
func (e *Engine) checkReinstall(ctx context.Context, req Request) error {
	host := req.Host

	if req.System.IsSimplex() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"not permitted on a simplex system", "")
	}
	if host.IsUnlocked() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host must be locked first", "lock the host and retry")
	}
	if host.Availability != models.AvailabilityOffline && !host.HasBoardManagement() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host is online and has no board management",
			"power the host off or provision board management credentials")
	}
	return nil
}

// checkSignal guards the orchestrator-originated signals. A signal arriving
// outside the window of the transition it closes is a stale or duplicate
// callback and must be ignored, not failed, so the orchestrator does not
// retry it forever.
func (e *Engine) checkSignal(ctx context.Context, req Request) error {
	inflight := req.Host.InFlight

	switch req.Action {
	case models.ActionServicesDisabled,
		models.ActionServicesDisableFailed,
		models.ActionServicesDisableExtend:
		if !inflight.Locking() {
			return &noopSignal{reason: "no lock in progress"}
		}
	case models.ActionServicesEnabled:
		if !inflight.Unlocking() {
			return &noopSignal{reason: "no unlock in progress"}
		}
	case models.ActionServicesDeleteFailed:
		// Always recorded; the delete path surfaces it to the operator.
	}
	return nil
}

// checkSubfunctionConfig guards the internal subfunction-config signal
func (e *Engine) checkSubfunctionConfig(ctx context.Context, req Request) error {
	host := req.Host
	if !host.IsController() || !host.HasSubfunction(models.PersonalityWorker) {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host has no worker subfunction to configure", "")
	}
	if !host.IsLocked() {
		return errors.NewConflictError(host.Hostname, string(req.Action),
			"host must be locked first", "lock the host and retry")
	}
	return nil
}
