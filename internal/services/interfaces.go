package services

import (
	"context"

	"github.com/stratacloud/host-controller/internal/action"
	"github.com/stratacloud/host-controller/internal/conductor"
	"github.com/stratacloud/host-controller/internal/models"
	"github.com/stratacloud/host-controller/internal/mtce"
)

// MtceClient actuates hosts through the maintenance agent
type MtceClient interface {
	Send(ctx context.Context, op action.Operation, host *models.Host, act models.Action) (*mtce.Response, error)
}

// VimClient notifies and queries the workload orchestrator
type VimClient interface {
	Notify(ctx context.Context, op action.Operation, host *models.Host, act models.Action) error
	PreCheck(ctx context.Context, host *models.Host) error
	ApplicationsBusy(ctx context.Context) (bool, error)
}

// ConductorClient applies and removes host configuration
type ConductorClient interface {
	Configure(ctx context.Context, host *models.Host) (*conductor.ConfigureResult, error)
	Unconfigure(ctx context.Context, host *models.Host) error
	PersistDefaultConfig(ctx context.Context) error
	UpdateClockSync(ctx context.Context, host *models.Host) error
	UpgradeInProgress(ctx context.Context) (bool, error)
}

// CredentialStore holds write-only board-management passwords
type CredentialStore interface {
	PutBMPassword(hostUUID, password string) error
	DeleteBMPassword(hostUUID string) error
}

// EventPublisher broadcasts host transition events to observers. A nil
// publisher is valid; publishing is best-effort.
type EventPublisher interface {
	PublishHostEvent(event string, host *models.Host)
}
