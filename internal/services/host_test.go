package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stratacloud/host-controller/internal/action"
	"github.com/stratacloud/host-controller/internal/conductor"
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
	"github.com/stratacloud/host-controller/internal/mtce"
	"github.com/stratacloud/host-controller/internal/patch"
)

func newTestHostService() (*HostService, *MockStore, *MockMtceClient, *MockVimClient, *MockConductorClient) {
	store := &MockStore{}
	mtceClient := &MockMtceClient{}
	vimClient := &MockVimClient{}
	conductorClient := &MockConductorClient{}
	svc := NewHostService(store, mtceClient, vimClient, conductorClient, nil, nil, logger.Default())
	return svc, store, mtceClient, vimClient, conductorClient
}

func unlockedWorker() *models.Host {
	return &models.Host{
		ID:             2,
		UUID:           "2dc5fa96-7e3a-4a43-b30f-1f1c0e4cf58a",
		Hostname:       "worker-0",
		Personality:    models.PersonalityWorker,
		Administrative: models.AdminUnlocked,
		Operational:    models.OperEnabled,
		Availability:   models.AvailabilityAvailable,
		Provision:      models.Provisioned,
		MgmtIP:         "192.168.204.12",
		MgmtMAC:        "08:00:27:aa:bb:02",
	}
}

func lockedWorker() *models.Host {
	h := unlockedWorker()
	h.Administrative = models.AdminLocked
	h.Operational = models.OperDisabled
	h.Availability = models.AvailabilityOnline
	return h
}

func activeController() *models.Host {
	return &models.Host{
		ID:             1,
		UUID:           "9a1bd427-6b92-4f2e-95b3-67cc1a1890d1",
		Hostname:       "controller-0",
		Personality:    models.PersonalityController,
		Administrative: models.AdminUnlocked,
		Operational:    models.OperEnabled,
		Availability:   models.AvailabilityAvailable,
		Provision:      models.Provisioned,
		ControllerRole: models.ControllerRoleActive,
		MgmtIP:         "192.168.204.2",
		MgmtMAC:        "08:00:27:aa:bb:01",
	}
}

func duplexSystem() *models.System {
	return &models.System{ID: 1, Mode: models.SystemModeDuplex, InitialConfigDone: true}
}

func actionDoc(act string) patch.Document {
	return patch.Document{{Op: "replace", Path: "/action", Value: act}}
}

func TestPatch_NoChangeIsIdempotent(t *testing.T) {
	svc, store, mtceClient, vimClient, conductorClient := newTestHostService()

	host := unlockedWorker()
	host.Location = "rack-3"
	store.On("GetHostByUUID", host.UUID).Return(host, nil)

	doc := patch.Document{{Op: "replace", Path: "/location", Value: "rack-3"}}
	got, err := svc.Patch(context.Background(), host.UUID, doc, patch.CallerGeneric)

	require.NoError(t, err)
	assert.Equal(t, host, got)
	store.AssertNotCalled(t, "UpdateHost", mock.Anything)
	mtceClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	vimClient.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	conductorClient.AssertNotCalled(t, "Configure", mock.Anything, mock.Anything)
}

func TestPatch_RestrictedFieldRejected(t *testing.T) {
	svc, store, _, _, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)

	doc := patch.Document{{Op: "replace", Path: "/administrative", Value: "locked"}}
	_, err := svc.Patch(context.Background(), host.UUID, doc, patch.CallerGeneric)

	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	store.AssertNotCalled(t, "UpdateHost", mock.Anything)
}

func TestPatch_LockStagesTransition(t *testing.T) {
	svc, store, mtceClient, vimClient, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	vimClient.On("PreCheck", mock.Anything, mock.AnythingOfType("*models.Host")).Return(nil)
	mtceClient.On("Send", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionLock).
		Return(&mtce.Response{}, nil)
	vimClient.On("Notify", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionLock).
		Return(nil)

	got, err := svc.Patch(context.Background(), host.UUID, actionDoc("lock"), patch.CallerGeneric)

	require.NoError(t, err)
	assert.True(t, got.InFlight.Locking())
	assert.Equal(t, "Locking", got.Task)
	// Administrative state is untouched; maintenance reports the lock result
	// through its own callback.
	assert.Equal(t, models.AdminUnlocked, got.Administrative)
	store.AssertNumberOfCalls(t, "UpdateHost", 2)
}

func TestPatch_LockMtceTimeoutLeavesMarker(t *testing.T) {
	svc, store, mtceClient, vimClient, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	vimClient.On("PreCheck", mock.Anything, mock.AnythingOfType("*models.Host")).Return(nil)
	mtceClient.On("Send", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionLock).
		Return(nil, errors.NewCollaboratorTimeout("maintenance agent", "modify"))

	_, err := svc.Patch(context.Background(), host.UUID, actionDoc("lock"), patch.CallerGeneric)

	require.Error(t, err)
	assert.True(t, errors.IsCollaboratorTimeout(err))
	// The staged persist ran and was not reverted, so the stuck transition
	// stays visible on the record.
	store.AssertNumberOfCalls(t, "UpdateHost", 1)
	vimClient.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatch_ActiveControllerLockRefused(t *testing.T) {
	for _, act := range []string{"lock", "force-lock"} {
		t.Run(act, func(t *testing.T) {
			svc, store, mtceClient, _, _ := newTestHostService()

			host := activeController()
			store.On("GetHostByUUID", host.UUID).Return(host, nil)
			store.On("GetSystem").Return(duplexSystem(), nil)
			store.On("GetHostsByPersonality", models.PersonalityController).
				Return([]models.Host{*host}, nil)

			_, err := svc.Patch(context.Background(), host.UUID, actionDoc(act), patch.CallerGeneric)

			require.Error(t, err)
			assert.True(t, errors.IsConflict(err))
			store.AssertNotCalled(t, "UpdateHost", mock.Anything)
			mtceClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPatch_SecondActionWhileInFlightRefused(t *testing.T) {
	svc, store, mtceClient, _, _ := newTestHostService()

	host := unlockedWorker()
	host.InFlight = models.InProgress(models.ActionLock)
	host.Task = "Locking"
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)

	_, err := svc.Patch(context.Background(), host.UUID, actionDoc("reboot"), patch.CallerGeneric)

	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	store.AssertNotCalled(t, "UpdateHost", mock.Anything)
	mtceClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatch_ForceVariantOverridesInFlight(t *testing.T) {
	svc, store, mtceClient, vimClient, _ := newTestHostService()

	host := unlockedWorker()
	host.InFlight = models.InProgress(models.ActionLock)
	host.Task = "Locking"
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	mtceClient.On("Send", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionForceLock).
		Return(&mtce.Response{}, nil)
	vimClient.On("Notify", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionForceLock).
		Return(nil)

	got, err := svc.Patch(context.Background(), host.UUID, actionDoc("force-lock"), patch.CallerGeneric)

	require.NoError(t, err)
	assert.True(t, got.InFlight.Locking())
	assert.Equal(t, "Force Locking", got.Task)
	// No orchestrator pre-check for the force variant
	vimClient.AssertNotCalled(t, "PreCheck", mock.Anything, mock.Anything)
}

func TestPatch_ForceLockSwallowsOrchestratorError(t *testing.T) {
	svc, store, mtceClient, vimClient, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	mtceClient.On("Send", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionForceLock).
		Return(&mtce.Response{}, nil)
	vimClient.On("Notify", mock.Anything, action.OperationModify, mock.AnythingOfType("*models.Host"), models.ActionForceLock).
		Return(errors.NewCollaboratorRejected("orchestrator", "modify", "instance migration failed", ""))

	got, err := svc.Patch(context.Background(), host.UUID, actionDoc("force-lock"), patch.CallerGeneric)

	require.NoError(t, err)
	assert.True(t, got.InFlight.Locking())
	store.AssertNumberOfCalls(t, "UpdateHost", 2)
}

func TestPatch_UnlockStagedCheckRevertsMarker(t *testing.T) {
	svc, store, mtceClient, vimClient, conductorClient := newTestHostService()

	host := lockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	vimClient.On("ApplicationsBusy", mock.Anything).Return(true, nil)

	_, err := svc.Patch(context.Background(), host.UUID, actionDoc("unlock"), patch.CallerGeneric)

	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	// One persist for the staged marker, one for the revert
	store.AssertNumberOfCalls(t, "UpdateHost", 2)
	mtceClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	conductorClient.AssertNotCalled(t, "Configure", mock.Anything, mock.Anything)

	reverted := store.Calls[len(store.Calls)-1].Arguments.Get(0).(*models.Host)
	assert.True(t, reverted.InFlight.Idle())
	assert.Equal(t, "", reverted.Task)
}

func TestPatch_SignalFromGenericCallerRejected(t *testing.T) {
	svc, store, _, _, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)

	_, err := svc.Patch(context.Background(), host.UUID, actionDoc("services-disabled"), patch.CallerGeneric)

	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestPatch_StaleServicesDisabledIsNoOp(t *testing.T) {
	svc, store, mtceClient, _, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(duplexSystem(), nil)

	got, err := svc.Patch(context.Background(), host.UUID, actionDoc("services-disabled"), patch.CallerOrchestrator)

	require.NoError(t, err)
	assert.Equal(t, host, got)
	store.AssertNotCalled(t, "UpdateHost", mock.Anything)
	mtceClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatch_ServicesEnabledPersistsInitialConfigOnce(t *testing.T) {
	svc, store, _, _, conductorClient := newTestHostService()

	host := activeController()
	host.InFlight = models.InProgress(models.ActionUnlock)
	host.Task = "Unlocking"
	host.Provision = models.Provisioning
	system := duplexSystem()
	system.InitialConfigDone = false

	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("GetSystem").Return(system, nil)
	store.On("GetHostsByPersonality", models.PersonalityController).
		Return([]models.Host{*host}, nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	store.On("UpdateSystem", mock.AnythingOfType("*models.System")).Return(nil)
	conductorClient.On("PersistDefaultConfig", mock.Anything).Return(nil)

	got, err := svc.Patch(context.Background(), host.UUID, actionDoc("services-enabled"), patch.CallerOrchestrator)

	require.NoError(t, err)
	assert.True(t, got.InFlight.Idle())
	assert.Equal(t, models.Provisioned, got.Provision)
	assert.True(t, system.InitialConfigDone)
	conductorClient.AssertNumberOfCalls(t, "PersistDefaultConfig", 1)
	store.AssertNumberOfCalls(t, "UpdateSystem", 1)
}

func TestCreate_CompensatesWhenMaintenanceRefuses(t *testing.T) {
	svc, store, mtceClient, vimClient, conductorClient := newTestHostService()

	store.On("GetHostByHostname", "worker-1").Return(nil, gorm.ErrRecordNotFound)
	store.On("GetHosts").Return([]models.Host{}, nil)
	store.On("CreateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	store.On("DeleteHost", mock.Anything).Return(nil)
	conductorClient.On("Configure", mock.Anything, mock.AnythingOfType("*models.Host")).
		Return(&conductor.ConfigureResult{MgmtIP: "192.168.204.13"}, nil)
	conductorClient.On("Unconfigure", mock.Anything, mock.AnythingOfType("*models.Host")).Return(nil)
	vimClient.On("Notify", mock.Anything, action.OperationAdd, mock.AnythingOfType("*models.Host"), models.Action("")).
		Return(nil)
	mtceClient.On("Send", mock.Anything, action.OperationAdd, mock.AnythingOfType("*models.Host"), models.Action("")).
		Return(nil, errors.NewCollaboratorTimeout("maintenance agent", "add"))

	_, err := svc.Create(context.Background(), CreateHostRequest{
		Hostname:    "worker-1",
		Personality: models.PersonalityWorker,
		MgmtMAC:     "08:00:27:aa:bb:03",
	})

	require.Error(t, err)
	assert.True(t, errors.IsCollaboratorTimeout(err))
	conductorClient.AssertNumberOfCalls(t, "Unconfigure", 1)
	store.AssertNumberOfCalls(t, "DeleteHost", 1)
}

func TestCreate_AmbiguousMgmtMACRefused(t *testing.T) {
	svc, store, _, _, _ := newTestHostService()

	existing := []models.Host{
		{ID: 3, Hostname: "worker-2", MgmtMAC: "08:00:27:aa:bb:09"},
		{ID: 4, Hostname: "worker-3", MgmtMAC: "08:00:27:aa:bb:09"},
	}
	store.On("GetHostByHostname", "worker-4").Return(nil, gorm.ErrRecordNotFound)
	store.On("GetHosts").Return(existing, nil)

	_, err := svc.Create(context.Background(), CreateHostRequest{
		Hostname: "worker-4",
		MgmtMAC:  "08:00:27:aa:bb:09",
	})

	require.Error(t, err)
	var iv *errors.InvariantViolation
	assert.True(t, errors.As(err, &iv))
	store.AssertNotCalled(t, "CreateHost", mock.Anything)
}

func TestDelete_RequiresLockedAndOffline(t *testing.T) {
	t.Run("unlocked host", func(t *testing.T) {
		svc, store, _, _, _ := newTestHostService()
		host := unlockedWorker()
		store.On("GetHostByUUID", host.UUID).Return(host, nil)

		err := svc.Delete(context.Background(), host.UUID, patch.CallerGeneric)

		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
		store.AssertNotCalled(t, "DeleteHost", mock.Anything)
	})

	t.Run("locked but still online", func(t *testing.T) {
		svc, store, _, _, _ := newTestHostService()
		host := lockedWorker()
		store.On("GetHostByUUID", host.UUID).Return(host, nil)

		err := svc.Delete(context.Background(), host.UUID, patch.CallerGeneric)

		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
		store.AssertNotCalled(t, "DeleteHost", mock.Anything)
	})
}

func TestDelete_SwallowsCollaboratorErrors(t *testing.T) {
	svc, store, mtceClient, vimClient, conductorClient := newTestHostService()

	host := lockedWorker()
	host.Availability = models.AvailabilityOffline
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("DeleteHost", host.ID).Return(nil)
	mtceClient.On("Send", mock.Anything, action.OperationDelete, host, models.Action("")).
		Return(nil, errors.NewCollaboratorTimeout("maintenance agent", "delete"))
	vimClient.On("Notify", mock.Anything, action.OperationDelete, host, models.Action("")).
		Return(errors.NewCollaboratorRejected("orchestrator", "delete", "unknown host", ""))
	conductorClient.On("Unconfigure", mock.Anything, host).Return(nil)

	err := svc.Delete(context.Background(), host.UUID, patch.CallerGeneric)

	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "DeleteHost", 1)
}

func TestPatch_FieldUpdatePersists(t *testing.T) {
	svc, store, _, _, _ := newTestHostService()

	host := unlockedWorker()
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)

	doc := patch.Document{{Op: "replace", Path: "/location", Value: "rack-7"}}
	got, err := svc.Patch(context.Background(), host.UUID, doc, patch.CallerGeneric)

	require.NoError(t, err)
	assert.Equal(t, "rack-7", got.Location)
	store.AssertNumberOfCalls(t, "UpdateHost", 1)
}

func TestPatch_PersonalityAssignmentTriggersConfigure(t *testing.T) {
	svc, store, _, vimClient, conductorClient := newTestHostService()

	host := lockedWorker()
	host.Availability = models.AvailabilityOffline
	host.Personality = ""
	host.Provision = models.Unprovisioned
	store.On("GetHostByUUID", host.UUID).Return(host, nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)
	conductorClient.On("Configure", mock.Anything, mock.AnythingOfType("*models.Host")).
		Return(&conductor.ConfigureResult{ConfigTarget: "cfg-1"}, nil)
	vimClient.On("Notify", mock.Anything, action.OperationAdd, mock.AnythingOfType("*models.Host"), models.Action("")).
		Return(nil)

	doc := patch.Document{{Op: "replace", Path: "/personality", Value: "worker"}}
	got, err := svc.Patch(context.Background(), host.UUID, doc, patch.CallerGeneric)

	require.NoError(t, err)
	assert.Equal(t, models.PersonalityWorker, got.Personality)
	assert.Equal(t, models.Provisioning, got.Provision)
	assert.Equal(t, "cfg-1", got.ConfigTarget)
}
