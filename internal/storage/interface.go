package storage

import "github.com/stratacloud/host-controller/internal/models"

// Store is the interface for the host record store
type Store interface {
	CreateHost(host *models.Host) error
	GetHost(id uint) (*models.Host, error)
	GetHostByUUID(uuid string) (*models.Host, error)
	GetHostByHostname(hostname string) (*models.Host, error)
	GetHosts() ([]models.Host, error)
	GetHostsByPersonality(p models.Personality) ([]models.Host, error)
	GetHostsByPeerID(peerID uint) ([]models.Host, error)
	UpdateHost(host *models.Host) error
	DeleteHost(id uint) error

	GetSystem() (*models.System, error)
	CreateSystem(system *models.System) error
	UpdateSystem(system *models.System) error

	CreatePeer(peer *models.Peer) error
	GetPeer(id uint) (*models.Peer, error)
}
