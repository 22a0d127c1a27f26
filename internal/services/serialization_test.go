package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stratacloud/host-controller/internal/patch"
)

func locationDoc(value string) patch.Document {
	return patch.Document{{Op: "replace", Path: "/location", Value: value}}
}

// A slow operator mutation holds the general lane; maintenance and
// orchestrator callbacks take the privileged lane and must not queue behind
// it, while a second operator mutation must.
func TestPatch_PrivilegedCallersDoNotQueueBehindGeneralLane(t *testing.T) {
	svc, store, _, _, _ := newTestHostService()

	slow := unlockedWorker()
	other := unlockedWorker()
	other.ID = 3
	other.UUID = "5c1e8a04-2f6d-4b9e-8c7a-93d0f1e2a6b4"
	other.Hostname = "worker-1"

	entered := make(chan struct{})
	release := make(chan struct{})
	store.On("GetHostByUUID", slow.UUID).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(slow, nil)
	store.On("GetHostByUUID", other.UUID).Return(other, nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)

	generalDone := make(chan error, 1)
	go func() {
		_, err := svc.Patch(context.Background(), slow.UUID, locationDoc("rack-9"), patch.CallerGeneric)
		generalDone <- err
	}()
	<-entered

	privilegedDone := make(chan error, 1)
	go func() {
		_, err := svc.Patch(context.Background(), other.UUID, locationDoc("rack-3"), patch.CallerMaintenance)
		privilegedDone <- err
	}()
	select {
	case err := <-privilegedDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance callback queued behind the general lane")
	}

	secondDone := make(chan error, 1)
	go func() {
		_, err := svc.Patch(context.Background(), other.UUID, locationDoc("rack-4"), patch.CallerGeneric)
		secondDone <- err
	}()
	select {
	case <-secondDone:
		t.Fatal("second operator mutation did not serialize on the general lane")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-generalDone)
	require.NoError(t, <-secondDone)
}

// Two privileged callbacks against the same record serialize with each other
func TestPatch_PrivilegedLaneSerializes(t *testing.T) {
	svc, store, _, _, _ := newTestHostService()

	host := unlockedWorker()
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	store.On("GetHostByUUID", host.UUID).
		Run(func(mock.Arguments) {
			if first {
				first = false
				close(entered)
				<-release
			}
		}).
		Return(host, nil)
	store.On("UpdateHost", mock.AnythingOfType("*models.Host")).Return(nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Patch(context.Background(), host.UUID, locationDoc("rack-1"), patch.CallerMaintenance)
		firstDone <- err
	}()
	<-entered

	secondDone := make(chan error, 1)
	go func() {
		_, err := svc.Patch(context.Background(), host.UUID, locationDoc("rack-2"), patch.CallerOrchestrator)
		secondDone <- err
	}()
	select {
	case <-secondDone:
		t.Fatal("orchestrator callback did not serialize on the privileged lane")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
}
