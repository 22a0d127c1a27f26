package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/models"
)

func snapshotHost() *models.Host {
	return &models.Host{
		UUID:           "3f6c9c2a-9d1e-4c55-8a3e-0c1d2e3f4a5b",
		Hostname:       "worker-0",
		Personality:    models.PersonalityWorker,
		Administrative: models.AdminUnlocked,
		Operational:    models.OperEnabled,
		Availability:   models.AvailabilityAvailable,
		Provision:      models.Provisioned,
		MgmtIP:         "192.168.204.12",
		MgmtMAC:        "52:54:00:aa:bb:cc",
		ClockSync:      models.ClockSyncNTP,
		Location:       "rack-2",
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "single attribute", path: "/location", want: "location"},
		{name: "missing leading slash", path: "location", wantErr: true},
		{name: "nested path", path: "/location/rack", wantErr: true},
		{name: "bare slash", path: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyzeFieldUpdate(t *testing.T) {
	current := snapshotHost()
	doc := Document{
		{Op: "replace", Path: "/location", Value: "rack-5"},
		{Op: "replace", Path: "/clock_synchronization", Value: "ptp"},
		{Op: "add", Path: "/bm_type", Value: "ipmi"},
	}

	res, err := Analyze(current, doc, CallerGeneric)
	require.NoError(t, err)

	assert.Equal(t, "rack-5", res.Candidate.Location)
	assert.Equal(t, models.ClockSyncPTP, res.Candidate.ClockSync)
	assert.Equal(t, "ipmi", res.Candidate.BMType)

	// delta is sorted for deterministic iteration
	assert.Equal(t, []string{"bm_type", "clock_synchronization", "location"}, res.Delta)
	assert.True(t, res.Changed("location"))
	assert.False(t, res.Changed("hostname"))

	// the snapshot is never mutated in place
	assert.Equal(t, "rack-2", current.Location)
}

func TestAnalyzeIdempotent(t *testing.T) {
	current := snapshotHost()
	doc := Document{
		{Op: "replace", Path: "/location", Value: "rack-2"},
	}

	res, err := Analyze(current, doc, CallerGeneric)
	require.NoError(t, err)
	assert.Empty(t, res.Delta)
	assert.Empty(t, res.Action)
}

func TestAnalyzeRemoveRevertsToZeroValue(t *testing.T) {
	current := snapshotHost()
	doc := Document{
		{Op: "remove", Path: "/location"},
	}

	res, err := Analyze(current, doc, CallerGeneric)
	require.NoError(t, err)
	assert.Equal(t, "", res.Candidate.Location)
	assert.Equal(t, []string{"location"}, res.Delta)
}

func TestAnalyzeDuplicatePaths(t *testing.T) {
	t.Run("conflicting values rejected", func(t *testing.T) {
		doc := Document{
			{Op: "replace", Path: "/location", Value: "rack-5"},
			{Op: "replace", Path: "/location", Value: "rack-6"},
		}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("identical values tolerated", func(t *testing.T) {
		doc := Document{
			{Op: "replace", Path: "/location", Value: "rack-5"},
			{Op: "replace", Path: "/location", Value: "rack-5"},
		}
		res, err := Analyze(snapshotHost(), doc, CallerGeneric)
		require.NoError(t, err)
		assert.Equal(t, "rack-5", res.Candidate.Location)
	})

	t.Run("set then remove rejected", func(t *testing.T) {
		doc := Document{
			{Op: "replace", Path: "/location", Value: "rack-5"},
			{Op: "remove", Path: "/location"},
		}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		assert.Error(t, err)
	})
}

func TestAnalyzeUnknownInputs(t *testing.T) {
	t.Run("unknown operation", func(t *testing.T) {
		doc := Document{{Op: "move", Path: "/location", Value: "rack-5"}}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("unknown attribute", func(t *testing.T) {
		doc := Document{{Op: "replace", Path: "/flavor", Value: "large"}}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestAnalyzeAction(t *testing.T) {
	t.Run("extracted from the document", func(t *testing.T) {
		doc := Document{{Op: "replace", Path: "/action", Value: "lock"}}
		res, err := Analyze(snapshotHost(), doc, CallerGeneric)
		require.NoError(t, err)
		assert.Equal(t, models.ActionLock, res.Action)
		assert.Empty(t, res.Delta)
	})

	t.Run("must be a string", func(t *testing.T) {
		doc := Document{{Op: "replace", Path: "/action", Value: 7}}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		assert.Error(t, err)
	})

	t.Run("remove rejected", func(t *testing.T) {
		doc := Document{{Op: "remove", Path: "/action"}}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		assert.Error(t, err)
	})
}

func TestAnalyzeBMPasswordIsWriteOnly(t *testing.T) {
	doc := Document{
		{Op: "replace", Path: "/bm_username", Value: "admin"},
		{Op: "replace", Path: "/bm_password", Value: "s3cret"},
	}

	res, err := Analyze(snapshotHost(), doc, CallerGeneric)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", res.BMPassword)
	assert.Equal(t, "admin", res.Candidate.BMUsername)
	// the password never lands on the candidate record or the delta
	assert.Equal(t, []string{"bm_username"}, res.Delta)
}

func TestAnalyzeRestrictedFields(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		value  interface{}
		caller CallerIdentity
		ok     bool
	}{
		{name: "uuid always restricted", field: "uuid", value: "x", caller: CallerMaintenance},
		{name: "mgmt_ip always restricted", field: "mgmt_ip", value: "10.0.0.9", caller: CallerOrchestrator},
		{name: "in_flight always restricted", field: "in_flight", value: "lock", caller: CallerMaintenance},
		{name: "availability from generic", field: "availability", value: "degraded", caller: CallerGeneric},
		{name: "availability from orchestrator", field: "availability", value: "degraded", caller: CallerOrchestrator},
		{name: "availability from maintenance", field: "availability", value: "degraded", caller: CallerMaintenance, ok: true},
		{name: "operational from maintenance", field: "operational", value: "disabled", caller: CallerMaintenance, ok: true},
		{name: "uptime from maintenance", field: "uptime", value: 3600, caller: CallerMaintenance, ok: true},
		{name: "controller_role from generic", field: "controller_role", value: "active", caller: CallerGeneric},
		{name: "vim_progress_status from maintenance", field: "vim_progress_status", value: "services-enabled", caller: CallerMaintenance},
		{name: "vim_progress_status from orchestrator", field: "vim_progress_status", value: "services-enabled", caller: CallerOrchestrator, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Document{{Op: "replace", Path: "/" + tt.field, Value: tt.value}}
			_, err := Analyze(snapshotHost(), doc, tt.caller)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
			}
		})
	}
}

func TestAnalyzeImmutableIdentity(t *testing.T) {
	t.Run("personality once set", func(t *testing.T) {
		doc := Document{{Op: "replace", Path: "/personality", Value: "storage"}}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("personality assignable while empty", func(t *testing.T) {
		current := snapshotHost()
		current.Personality = ""
		doc := Document{{Op: "replace", Path: "/personality", Value: "worker"}}
		res, err := Analyze(current, doc, CallerGeneric)
		require.NoError(t, err)
		assert.Equal(t, models.PersonalityWorker, res.Candidate.Personality)
	})

	t.Run("hostname once set", func(t *testing.T) {
		doc := Document{{Op: "replace", Path: "/hostname", Value: "worker-9"}}
		_, err := Analyze(snapshotHost(), doc, CallerGeneric)
		assert.Error(t, err)
	})

	t.Run("subfunctions once set", func(t *testing.T) {
		current := snapshotHost()
		current.Subfunctions = "worker"
		doc := Document{{Op: "replace", Path: "/subfunctions", Value: "worker,lowlatency"}}
		_, err := Analyze(current, doc, CallerGeneric)
		assert.Error(t, err)
	})
}

func TestAnalyzeEnumValidation(t *testing.T) {
	doc := Document{{Op: "replace", Path: "/availability", Value: "sideways"}}
	_, err := Analyze(snapshotHost(), doc, CallerMaintenance)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	doc = Document{{Op: "replace", Path: "/clock_synchronization", Value: "sundial"}}
	_, err = Analyze(snapshotHost(), doc, CallerGeneric)
	assert.Error(t, err)
}
