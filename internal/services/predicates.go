package services

import (
	"context"

	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/models"
	"github.com/stratacloud/host-controller/internal/storage"
)

// minStorageMonitors is the number of storage monitors that must remain in
// service after a storage host goes down
const minStorageMonitors = 2

// predicates implements action.Predicates by combining orchestrator and
// conductor queries with host record store lookups
type predicates struct {
	store     storage.Store
	vim       VimClient
	conductor ConductorClient
}

func (p *predicates) OrchestratorPreCheck(ctx context.Context, host *models.Host) error {
	return p.vim.PreCheck(ctx, host)
}

func (p *predicates) ApplicationsBusy(ctx context.Context) (bool, error) {
	return p.vim.ApplicationsBusy(ctx)
}

func (p *predicates) UpgradeInProgress(ctx context.Context) (bool, error) {
	return p.conductor.UpgradeInProgress(ctx)
}

// StorageMonitorQuorum verifies that taking the host down leaves enough
// storage monitors to keep the cluster writable
func (p *predicates) StorageMonitorQuorum(ctx context.Context, host *models.Host) error {
	if host.Personality != models.PersonalityStorage {
		return nil
	}
	peers, err := p.store.GetHostsByPersonality(models.PersonalityStorage)
	if err != nil {
		return errors.Wrap(err, "list storage hosts")
	}
	remaining := 0
	for _, peer := range peers {
		if peer.ID == host.ID {
			continue
		}
		if peer.Operational == models.OperEnabled {
			remaining++
		}
	}
	if remaining < minStorageMonitors {
		return errors.NewConflictError(host.Hostname, "unlock",
			"too few storage monitors would remain in service",
			"enable another storage host first")
	}
	return nil
}

// StorageBackendReady verifies the storage replication peers of the host can
// carry its load
func (p *predicates) StorageBackendReady(ctx context.Context, host *models.Host) error {
	if host.PeerID == nil {
		return nil
	}
	members, err := p.store.GetHostsByPeerID(*host.PeerID)
	if err != nil {
		return errors.Wrap(err, "list peer set members")
	}
	for _, member := range members {
		if member.ID == host.ID {
			continue
		}
		if member.Availability == models.AvailabilityOffline ||
			member.Availability == models.AvailabilityFailed {
			return errors.NewConflictError(host.Hostname, "unlock",
				"replication peer "+member.Hostname+" is not available",
				"recover the peer before unlocking this host")
		}
	}
	return nil
}

// InterfacesProvisioned verifies the host has its management identity
// configured. The full interface inventory lives outside this core; the
// management identity is the part an unlock cannot proceed without.
func (p *predicates) InterfacesProvisioned(ctx context.Context, host *models.Host) error {
	if host.MgmtIP == "" || host.MgmtMAC == "" {
		return errors.NewConflictError(host.Hostname, "unlock",
			"management interface is not provisioned",
			"provision the management interface first")
	}
	return nil
}

// PeerInRecovery reports whether a replication peer of the host is still
// recovering
func (p *predicates) PeerInRecovery(ctx context.Context, host *models.Host) (bool, error) {
	if host.PeerID == nil {
		return false, nil
	}
	peer, err := p.store.GetPeer(*host.PeerID)
	if err != nil {
		return false, errors.Wrap(err, "fetch peer set")
	}
	return peer.Status == models.PeerStatusRecovering, nil
}

// PeerMidUpdate reports whether the peer controller is applying a storage or
// device update
func (p *predicates) PeerMidUpdate(ctx context.Context, peer *models.Host) (bool, error) {
	if peer.ConfigStatus == models.ConfigStatusOutOfDate {
		return true, nil
	}
	return !peer.InFlight.Idle(), nil
}
