package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stratacloud/host-controller/internal/action"
	"github.com/stratacloud/host-controller/internal/conductor"
	"github.com/stratacloud/host-controller/internal/models"
	"github.com/stratacloud/host-controller/internal/mtce"
)

// MockStore is a mock implementation of storage.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateHost(host *models.Host) error {
	args := m.Called(host)
	return args.Error(0)
}

func (m *MockStore) GetHost(id uint) (*models.Host, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Host), args.Error(1)
}

func (m *MockStore) GetHostByUUID(uuid string) (*models.Host, error) {
	args := m.Called(uuid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Host), args.Error(1)
}

func (m *MockStore) GetHostByHostname(hostname string) (*models.Host, error) {
	args := m.Called(hostname)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Host), args.Error(1)
}

func (m *MockStore) GetHosts() ([]models.Host, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Host), args.Error(1)
}

func (m *MockStore) GetHostsByPersonality(p models.Personality) ([]models.Host, error) {
	args := m.Called(p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Host), args.Error(1)
}

func (m *MockStore) GetHostsByPeerID(peerID uint) ([]models.Host, error) {
	args := m.Called(peerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Host), args.Error(1)
}

func (m *MockStore) UpdateHost(host *models.Host) error {
	args := m.Called(host)
	return args.Error(0)
}

func (m *MockStore) DeleteHost(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockStore) GetSystem() (*models.System, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.System), args.Error(1)
}

func (m *MockStore) CreateSystem(system *models.System) error {
	args := m.Called(system)
	return args.Error(0)
}

func (m *MockStore) UpdateSystem(system *models.System) error {
	args := m.Called(system)
	return args.Error(0)
}

func (m *MockStore) CreatePeer(peer *models.Peer) error {
	args := m.Called(peer)
	return args.Error(0)
}

func (m *MockStore) GetPeer(id uint) (*models.Peer, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Peer), args.Error(1)
}

// MockMtceClient is a mock implementation of MtceClient
type MockMtceClient struct {
	mock.Mock
}

func (m *MockMtceClient) Send(ctx context.Context, op action.Operation, host *models.Host, act models.Action) (*mtce.Response, error) {
	args := m.Called(ctx, op, host, act)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mtce.Response), args.Error(1)
}

// MockVimClient is a mock implementation of VimClient
type MockVimClient struct {
	mock.Mock
}

func (m *MockVimClient) Notify(ctx context.Context, op action.Operation, host *models.Host, act models.Action) error {
	args := m.Called(ctx, op, host, act)
	return args.Error(0)
}

func (m *MockVimClient) PreCheck(ctx context.Context, host *models.Host) error {
	args := m.Called(ctx, host)
	return args.Error(0)
}

func (m *MockVimClient) ApplicationsBusy(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// MockConductorClient is a mock implementation of ConductorClient
type MockConductorClient struct {
	mock.Mock
}

func (m *MockConductorClient) Configure(ctx context.Context, host *models.Host) (*conductor.ConfigureResult, error) {
	args := m.Called(ctx, host)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conductor.ConfigureResult), args.Error(1)
}

func (m *MockConductorClient) Unconfigure(ctx context.Context, host *models.Host) error {
	args := m.Called(ctx, host)
	return args.Error(0)
}

func (m *MockConductorClient) PersistDefaultConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConductorClient) UpdateClockSync(ctx context.Context, host *models.Host) error {
	args := m.Called(ctx, host)
	return args.Error(0)
}

func (m *MockConductorClient) UpgradeInProgress(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// MockCredentialStore is a mock implementation of CredentialStore
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) PutBMPassword(hostUUID, password string) error {
	args := m.Called(hostUUID, password)
	return args.Error(0)
}

func (m *MockCredentialStore) DeleteBMPassword(hostUUID string) error {
	args := m.Called(hostUUID)
	return args.Error(0)
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishHostEvent(event string, host *models.Host) {
	m.Called(event, host)
}
