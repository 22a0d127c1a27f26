package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stratacloud/host-controller/internal/action"
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
	"github.com/stratacloud/host-controller/internal/patch"
	"github.com/stratacloud/host-controller/internal/storage"
)

// Host transition events published to observers
const (
	EventHostCreated  = "host.created"
	EventHostModified = "host.modified"
	EventHostAction   = "host.action"
	EventHostDeleted  = "host.deleted"
)

// HostService coordinates every host mutation: patch analysis, action
// admission, staged persistence, and collaborator notification. Mutations
// are serialized per caller domain so a generic client can never interleave
// with itself, while maintenance and orchestrator callbacks keep their own
// lane and are never starved by operator traffic.
type HostService struct {
	store     storage.Store
	mtce      MtceClient
	vim       VimClient
	conductor ConductorClient
	creds     CredentialStore
	events    EventPublisher
	engine    *action.Engine
	logger    logger.Interface

	generalMu    sync.Mutex
	privilegedMu sync.Mutex
}

// NewHostService creates the mutation coordinator wired to its collaborators.
// events may be nil when no observer transport is configured.
func NewHostService(store storage.Store, mtceClient MtceClient, vimClient VimClient,
	conductorClient ConductorClient, creds CredentialStore, events EventPublisher,
	log logger.Interface) *HostService {

	preds := &predicates{store: store, vim: vimClient, conductor: conductorClient}
	return &HostService{
		store:     store,
		mtce:      mtceClient,
		vim:       vimClient,
		conductor: conductorClient,
		creds:     creds,
		events:    events,
		engine:    action.NewEngine(preds, log),
		logger:    log.WithField("service", "host"),
	}
}

// mutexFor selects the serialization domain for a caller. Maintenance and
// orchestrator callbacks share the privileged lane.
func (s *HostService) mutexFor(caller patch.CallerIdentity) *sync.Mutex {
	if caller == patch.CallerMaintenance || caller == patch.CallerOrchestrator {
		return &s.privilegedMu
	}
	return &s.generalMu
}

func (s *HostService) publish(event string, host *models.Host) {
	if s.events == nil {
		return
	}
	s.events.PublishHostEvent(event, host)
}

// List returns all host records.
func (s *HostService) List() ([]models.Host, error) {
	hosts, err := s.store.GetHosts()
	if err != nil {
		return nil, errors.Wrap(err, "list hosts")
	}
	return hosts, nil
}

// GetByUUID returns a single host record.
func (s *HostService) GetByUUID(id string) (*models.Host, error) {
	host, err := s.store.GetHostByUUID(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get host")
	}
	return host, nil
}

// GetByHostname returns a single host record by hostname.
func (s *HostService) GetByHostname(hostname string) (*models.Host, error) {
	host, err := s.store.GetHostByHostname(hostname)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get host")
	}
	return host, nil
}

// CreateHostRequest carries the fields accepted at enrollment
type CreateHostRequest struct {
	Hostname     string             `json:"hostname"`
	Personality  models.Personality `json:"personality"`
	Subfunctions string             `json:"subfunctions"`
	MgmtIP       string             `json:"mgmt_ip"`
	MgmtMAC      string             `json:"mgmt_mac"`
	BMType       string             `json:"bm_type"`
	BMIP         string             `json:"bm_ip"`
	BMUsername   string             `json:"bm_username"`
	BMPassword   string             `json:"bm_password"`
	Location     string             `json:"location"`
}

// Create enrolls a new host: the record is persisted first, then the
// conductor configures it and the collaborators learn of it. If any
// collaborator refuses, the conductor configuration is rolled back and the
// record removed so a retry starts clean.
func (s *HostService) Create(ctx context.Context, req CreateHostRequest) (*models.Host, error) {
	s.generalMu.Lock()
	defer s.generalMu.Unlock()

	if req.Hostname != "" {
		if _, err := s.store.GetHostByHostname(req.Hostname); err == nil {
			return nil, ErrAlreadyExists
		} else if err != gorm.ErrRecordNotFound {
			return nil, errors.Wrap(err, "check hostname")
		}
	}
	if req.MgmtMAC != "" {
		if err := s.checkMgmtMACUnique(req.MgmtMAC); err != nil {
			return nil, err
		}
	}

	host := &models.Host{
		UUID:           uuid.New().String(),
		Hostname:       req.Hostname,
		Personality:    req.Personality,
		Subfunctions:   req.Subfunctions,
		Administrative: models.AdminLocked,
		Operational:    models.OperDisabled,
		Availability:   models.AvailabilityOffline,
		Provision:      models.Unprovisioned,
		MgmtIP:         req.MgmtIP,
		MgmtMAC:        req.MgmtMAC,
		BMType:         req.BMType,
		BMIP:           req.BMIP,
		BMUsername:     req.BMUsername,
		Location:       req.Location,
	}
	if req.Personality != "" {
		host.Provision = models.Provisioning
	}

	if err := s.store.CreateHost(host); err != nil {
		return nil, errors.Wrap(err, "create host")
	}

	log := s.logger.WithFields(map[string]interface{}{
		"hostname": host.Hostname,
		"uuid":     host.UUID,
	})

	result, err := s.conductor.Configure(ctx, host)
	if err != nil {
		log.WithError(err).Error("Conductor refused host configuration")
		if derr := s.store.DeleteHost(host.ID); derr != nil {
			log.WithError(derr).Error("Failed to remove host after configure failure")
		}
		return nil, err
	}
	if result != nil {
		if result.MgmtIP != "" {
			host.MgmtIP = result.MgmtIP
		}
		if result.ConfigTarget != "" {
			host.ConfigTarget = result.ConfigTarget
		}
	}

	if err := s.vim.Notify(ctx, action.OperationAdd, host, ""); err != nil {
		log.WithError(err).Error("Orchestrator refused new host")
		s.compensateCreate(ctx, host, log)
		return nil, err
	}
	if _, err := s.mtce.Send(ctx, action.OperationAdd, host, ""); err != nil {
		log.WithError(err).Error("Maintenance agent refused new host")
		s.compensateCreate(ctx, host, log)
		return nil, err
	}

	if req.BMPassword != "" && s.creds != nil {
		if err := s.creds.PutBMPassword(host.UUID, req.BMPassword); err != nil {
			log.WithError(err).Error("Failed to store board-management credential")
		}
	}

	if err := s.store.UpdateHost(host); err != nil {
		return nil, errors.Wrap(err, "persist host")
	}

	log.Info("Host enrolled")
	s.publish(EventHostCreated, host)
	return host, nil
}

// compensateCreate unwinds a partially enrolled host: the conductor drops
// the configuration it applied and the record is removed.
func (s *HostService) compensateCreate(ctx context.Context, host *models.Host, log logger.Interface) {
	if err := s.conductor.Unconfigure(ctx, host); err != nil {
		log.WithError(err).Error("Failed to unconfigure host during enrollment rollback")
	}
	if err := s.store.DeleteHost(host.ID); err != nil {
		log.WithError(err).Error("Failed to remove host during enrollment rollback")
	}
}

// checkMgmtMACUnique rejects enrollment when the management MAC already
// belongs to a record. More than one match means the inventory itself is
// inconsistent and no automatic resolution is safe.
func (s *HostService) checkMgmtMACUnique(mac string) error {
	hosts, err := s.store.GetHosts()
	if err != nil {
		return errors.Wrap(err, "list hosts")
	}
	matches := 0
	for i := range hosts {
		if hosts[i].MgmtMAC == mac {
			matches++
		}
	}
	if matches > 1 {
		return errors.NewInvariantViolation("management MAC %s matches %d host records", mac, matches)
	}
	if matches == 1 {
		return ErrAlreadyExists
	}
	return nil
}

// Patch applies a patch document to a host under the caller's serialization
// domain. Field-only patches persist directly; a patched action runs the
// full admission and staging pipeline.
func (s *HostService) Patch(ctx context.Context, id string, doc patch.Document, caller patch.CallerIdentity) (*models.Host, error) {
	mu := s.mutexFor(caller)
	mu.Lock()
	defer mu.Unlock()

	host, err := s.GetByUUID(id)
	if err != nil {
		return nil, err
	}

	res, err := patch.Analyze(host, doc, caller)
	if err != nil {
		return nil, err
	}

	// A patch that changes nothing, carries no action, and no credential is
	// answered from the record alone. No collaborator hears about it.
	if res.Action == "" && len(res.Delta) == 0 && res.BMPassword == "" {
		return host, nil
	}

	if res.Action != "" {
		return s.executeAction(ctx, host, res, caller)
	}
	return s.commitFieldPatch(ctx, host, res)
}

// commitFieldPatch persists a candidate that carries no action. A newly
// assigned personality triggers first-time configuration.
func (s *HostService) commitFieldPatch(ctx context.Context, host *models.Host, res *patch.Result) (*models.Host, error) {
	candidate := res.Candidate
	log := s.logger.WithFields(map[string]interface{}{
		"hostname": host.Hostname,
		"uuid":     host.UUID,
		"delta":    res.Delta,
	})

	if res.Changed("personality") && host.Personality == "" && candidate.Personality != "" {
		result, err := s.conductor.Configure(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if result != nil && result.MgmtIP != "" {
			candidate.MgmtIP = result.MgmtIP
		}
		if result != nil && result.ConfigTarget != "" {
			candidate.ConfigTarget = result.ConfigTarget
		}
		candidate.Provision = models.Provisioning
		if err := s.vim.Notify(ctx, action.OperationAdd, candidate, ""); err != nil {
			return nil, err
		}
	}

	if res.Changed("clock_synchronization") {
		if err := s.conductor.UpdateClockSync(ctx, candidate); err != nil {
			return nil, err
		}
	}

	if res.BMPassword != "" && s.creds != nil {
		if err := s.creds.PutBMPassword(host.UUID, res.BMPassword); err != nil {
			return nil, errors.Wrap(err, "store board-management credential")
		}
	}

	if err := s.store.UpdateHost(candidate); err != nil {
		return nil, errors.Wrap(err, "persist host")
	}

	log.Info("Host record updated")
	s.publish(EventHostModified, candidate)
	return candidate, nil
}

// executeAction runs a patched action through admission, staged persistence,
// collaborator notification, and commit. The precondition engine sees the
// record as it stands; staged values are persisted before any remote call so
// a crash or timeout leaves the in-flight marker for inspection.
func (s *HostService) executeAction(ctx context.Context, host *models.Host, res *patch.Result, caller patch.CallerIdentity) (*models.Host, error) {
	if action.IsSignal(res.Action) && caller != patch.CallerOrchestrator {
		return nil, errors.NewValidationError("action", res.Action,
			"signal actions are reserved for the orchestrator")
	}
	if res.Action == models.ActionSubfunctionConfig && caller == patch.CallerGeneric {
		return nil, errors.NewValidationError("action", res.Action,
			"subfunction-config is an internal action")
	}

	system, err := s.store.GetSystem()
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewInvariantViolation("no system record exists")
		}
		return nil, errors.Wrap(err, "get system")
	}

	peer, err := s.peerController(host)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Evaluate(ctx, action.Request{
		Host:           host,
		Action:         res.Action,
		System:         system,
		PeerController: peer,
	})
	if err != nil {
		return nil, err
	}
	if decision.NoOp {
		return host, nil
	}
	plan := decision.Plan

	log := s.logger.WithFields(map[string]interface{}{
		"hostname": host.Hostname,
		"uuid":     host.UUID,
		"action":   plan.Action,
	})

	working := res.Candidate
	prevInFlight := host.InFlight
	prevTask := host.Task

	if plan.PreNotify != nil {
		plan.PreNotify(working)
	}
	if err := s.store.UpdateHost(working); err != nil {
		return nil, errors.Wrap(err, "persist staged transition")
	}

	for _, check := range plan.StagedChecks {
		if err := check(ctx); err != nil {
			working.InFlight = prevInFlight
			working.Task = prevTask
			if rerr := s.store.UpdateHost(working); rerr != nil {
				log.WithError(rerr).Error("Failed to revert staged transition")
			}
			return nil, err
		}
	}

	if res.BMPassword != "" && s.creds != nil {
		if err := s.creds.PutBMPassword(host.UUID, res.BMPassword); err != nil {
			return nil, errors.Wrap(err, "store board-management credential")
		}
	}

	// Maintenance is always told first. Its failure leaves the in-flight
	// marker persisted so an operator or audit can see the stuck transition.
	if plan.NotifyMtce {
		if _, err := s.mtce.Send(ctx, plan.MtceOperation, working, plan.Action); err != nil {
			log.WithError(err).Error("Maintenance agent did not accept the action")
			return nil, err
		}
	}
	if plan.NotifyVim {
		if err := s.vim.Notify(ctx, plan.VimOperation, working, plan.Action); err != nil {
			if plan.VimErrorFatal {
				log.WithError(err).Error("Orchestrator rejected the action")
				return nil, err
			}
			log.WithError(err).Warn("Orchestrator error ignored for forced action")
		}
	}
	if plan.NotifyConductor {
		if _, err := s.conductor.Configure(ctx, working); err != nil {
			log.WithError(err).Error("Conductor rejected the configuration update")
			return nil, err
		}
	}

	// The first controller to come into service carries the system's initial
	// configuration; it is persisted exactly once.
	if plan.Action == models.ActionServicesEnabled && working.IsController() && !system.InitialConfigDone {
		if err := s.conductor.PersistDefaultConfig(ctx); err != nil {
			log.WithError(err).Error("Failed to persist initial system configuration")
			return nil, err
		}
		system.InitialConfigDone = true
		if err := s.store.UpdateSystem(system); err != nil {
			return nil, errors.Wrap(err, "persist system")
		}
	}

	if plan.PostCommit != nil {
		plan.PostCommit(working)
	}
	if err := s.store.UpdateHost(working); err != nil {
		return nil, errors.Wrap(err, "persist transition")
	}

	log.Info("Host action completed")
	s.publish(EventHostAction, working)
	return working, nil
}

// peerController finds the other member of the controller pair, nil when the
// host is not a controller or stands alone.
func (s *HostService) peerController(host *models.Host) (*models.Host, error) {
	if !host.IsController() {
		return nil, nil
	}
	controllers, err := s.store.GetHostsByPersonality(models.PersonalityController)
	if err != nil {
		return nil, errors.Wrap(err, "list controllers")
	}
	for i := range controllers {
		if controllers[i].ID != host.ID {
			return &controllers[i], nil
		}
	}
	return nil, nil
}

// Delete removes a host from the inventory. The host must be locked and out
// of service. Collaborator refusals do not block removal; the record is the
// source of truth and a later audit reconciles stragglers.
func (s *HostService) Delete(ctx context.Context, id string, caller patch.CallerIdentity) error {
	mu := s.mutexFor(caller)
	mu.Lock()
	defer mu.Unlock()

	host, err := s.GetByUUID(id)
	if err != nil {
		return err
	}

	if !host.IsLocked() {
		return errors.NewConflictError(host.Hostname, "delete",
			"host is unlocked", "lock the host first")
	}
	switch host.Availability {
	case models.AvailabilityOffline, models.AvailabilityPowerOff:
	default:
		return errors.NewConflictError(host.Hostname, "delete",
			"host is still reachable", "power the host off first")
	}

	log := s.logger.WithFields(map[string]interface{}{
		"hostname": host.Hostname,
		"uuid":     host.UUID,
	})

	if _, err := s.mtce.Send(ctx, action.OperationDelete, host, ""); err != nil {
		log.WithError(err).Warn("Maintenance agent error ignored during delete")
	}
	if err := s.vim.Notify(ctx, action.OperationDelete, host, ""); err != nil {
		log.WithError(err).Warn("Orchestrator error ignored during delete")
	}
	if err := s.conductor.Unconfigure(ctx, host); err != nil {
		log.WithError(err).Warn("Conductor error ignored during delete")
	}
	if s.creds != nil {
		if err := s.creds.DeleteBMPassword(host.UUID); err != nil {
			log.WithError(err).Warn("Failed to remove board-management credential")
		}
	}

	if err := s.store.DeleteHost(host.ID); err != nil {
		return errors.Wrap(err, "delete host")
	}

	log.Info("Host deleted")
	s.publish(EventHostDeleted, host)
	return nil
}
