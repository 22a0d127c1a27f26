// Package action implements the per-action state machine that decides whether
// an administrative action may proceed, and stages the record values and
// collaborator notifications for an admitted action.
package action

import (
	"context"

	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
)

// Operation identifies the kind of change carried in a collaborator
// notification payload
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationModify Operation = "modify"
	OperationDelete Operation = "delete"
)

// Predicates exposes the read-only domain checks the engine consults before
// admitting an action. The implementations live outside the core: the
// orchestrator checks are remote queries, the storage and interface checks
// are record-store lookups.
type Predicates interface {
	// OrchestratorPreCheck asks the orchestrator whether workloads on the
	// host can be evacuated. Soft check for lock.
	OrchestratorPreCheck(ctx context.Context, host *models.Host) error

	// ApplicationsBusy reports whether a managed application operation is in
	// progress. Soft check for unlock; force-unlock skips it.
	ApplicationsBusy(ctx context.Context) (bool, error)

	// UpgradeInProgress reports whether a software upgrade stage forbids
	// unlocking. Soft check for unlock; force-unlock skips it.
	UpgradeInProgress(ctx context.Context) (bool, error)

	// StorageMonitorQuorum verifies that enough storage monitors remain if
	// the host goes down. Runs for force-unlock as well.
	StorageMonitorQuorum(ctx context.Context, host *models.Host) error

	// StorageBackendReady verifies the storage backend can serve without the
	// host. Runs for force-unlock as well.
	StorageBackendReady(ctx context.Context, host *models.Host) error

	// InterfacesProvisioned verifies the host has its mandatory interfaces
	// configured. Runs for force-unlock as well.
	InterfacesProvisioned(ctx context.Context, host *models.Host) error

	// PeerInRecovery reports whether a replication peer of the host is still
	// recovering. Soft check for lock.
	PeerInRecovery(ctx context.Context, host *models.Host) (bool, error)

	// PeerMidUpdate reports whether the peer controller is mid storage or
	// device update. Soft check for swact.
	PeerMidUpdate(ctx context.Context, peer *models.Host) (bool, error)
}

// Request carries everything the engine needs to evaluate one action
type Request struct {
	Host   *models.Host
	Action models.Action

	// System provides the fleet topology for the simplex guards
	System *models.System

	// PeerController is the other member of the controller pair, nil when the
	// host is not a controller or has no peer
	PeerController *models.Host
}

// Decision is the engine's verdict on an admitted or ignored action
type Decision struct {
	// Plan stages the transition for an admitted action
	Plan *Plan

	// NoOp is true when the signal must be silently ignored, such as a stale
	// orchestrator callback. No collaborator is notified and nothing is
	// persisted.
	NoOp bool

	// NoOpReason explains an ignored signal for the log
	NoOpReason string
}

// handler pairs an action's precondition function with its staging function
type handler struct {
	check func(e *Engine, ctx context.Context, req Request) error
	stage func(e *Engine, req Request) *Plan
}

// handlers is the closed action vocabulary. Tokens absent from this table are
// rejected before any state is touched.
var handlers = map[models.Action]handler{
	models.ActionLock:        {(*Engine).checkLock, (*Engine).stageLock},
	models.ActionForceLock:   {(*Engine).checkLock, (*Engine).stageLock},
	models.ActionUnlock:      {(*Engine).checkUnlock, (*Engine).stageUnlock},
	models.ActionForceUnlock: {(*Engine).checkUnlock, (*Engine).stageUnlock},
	models.ActionSwact:       {(*Engine).checkSwact, (*Engine).stageSwact},
	models.ActionForceSwact:  {(*Engine).checkSwact, (*Engine).stageSwact},
	models.ActionReboot:      {(*Engine).checkPower, (*Engine).stagePower},
	models.ActionReset:       {(*Engine).checkPower, (*Engine).stagePower},
	models.ActionPowerOn:     {(*Engine).checkPower, (*Engine).stagePower},
	models.ActionPowerOff:    {(*Engine).checkPower, (*Engine).stagePower},
	models.ActionReinstall:   {(*Engine).checkReinstall, (*Engine).stageReinstall},

	models.ActionServicesEnabled:       {(*Engine).checkSignal, (*Engine).stageServicesEnabled},
	models.ActionServicesDisabled:      {(*Engine).checkSignal, (*Engine).stageServicesDisabled},
	models.ActionServicesDisableFailed: {(*Engine).checkSignal, (*Engine).stageServicesDisableFailed},
	models.ActionServicesDisableExtend: {(*Engine).checkSignal, (*Engine).stageServicesDisableExtend},
	models.ActionServicesDeleteFailed:  {(*Engine).checkSignal, (*Engine).stageServicesDeleteFailed},

	models.ActionSubfunctionConfig: {(*Engine).checkSubfunctionConfig, (*Engine).stageSubfunctionConfig},
}

// Engine evaluates actions against the current host and system state
type Engine struct {
	preds  Predicates
	logger logger.Interface
}

// NewEngine creates a precondition engine backed by the given predicates
func NewEngine(preds Predicates, log logger.Interface) *Engine {
	return &Engine{
		preds:  preds,
		logger: log.WithField("component", "action-engine"),
	}
}

// Evaluate decides whether req.Action may proceed. On success the returned
// decision carries the staged transition; a guard failure returns a typed
// error and guarantees nothing was persisted.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	h, ok := handlers[req.Action]
	if !ok {
		return nil, errors.NewValidationError("action", req.Action, "unknown action")
	}

	if err := e.checkInFlight(req); err != nil {
		return nil, err
	}
	if err := h.check(e, ctx, req); err != nil {
		if noop, ok := err.(*noopSignal); ok {
			e.logger.WithFields(map[string]interface{}{
				"hostname": req.Host.Hostname,
				"action":   req.Action,
				"reason":   noop.reason,
			}).Info("Ignoring stale signal")
			return &Decision{NoOp: true, NoOpReason: noop.reason}, nil
		}
		return nil, err
	}

	plan := h.stage(e, req)
	e.logger.WithFields(map[string]interface{}{
		"hostname": req.Host.Hostname,
		"action":   req.Action,
	}).Debug("Action admitted")
	return &Decision{Plan: plan}, nil
}

// checkInFlight enforces the single in-flight action invariant. A small
// whitelist of terminal and override actions may interrupt an executing one:
// the force variant of the executing action, and the orchestrator signals
// that close its loop.
func (e *Engine) checkInFlight(req Request) error {
	inflight := req.Host.InFlight
	if inflight.Idle() {
		return nil
	}
	if IsSignal(req.Action) {
		return nil
	}
	if req.Action.IsForce() && req.Action.Base() == inflight.Action.Base() {
		return nil
	}
	return errors.NewConflictError(req.Host.Hostname, string(req.Action),
		"another action ("+string(inflight.Action)+") is already in progress",
		"wait for it to complete or retry with the force variant")
}

// IsSignal reports whether the action is an orchestrator-originated signal
// rather than an operator-issued one
func IsSignal(a models.Action) bool {
	switch a {
	case models.ActionServicesEnabled,
		models.ActionServicesDisabled,
		models.ActionServicesDisableFailed,
		models.ActionServicesDisableExtend,
		models.ActionServicesDeleteFailed:
		return true
	}
	return false
}

// noopSignal flows out of a signal check to request a silent ignore rather
// than an error
type noopSignal struct {
	reason string
}

func (n *noopSignal) Error() string {
	return n.reason
}
