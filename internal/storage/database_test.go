package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
)

func setupDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewForTest(logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedHost(t *testing.T, db *Database, hostname string) *models.Host {
	t.Helper()
	host := &models.Host{
		UUID:           "uuid-" + hostname,
		Hostname:       hostname,
		Personality:    models.PersonalityWorker,
		Administrative: models.AdminLocked,
		Operational:    models.OperDisabled,
		Availability:   models.AvailabilityOffline,
		MgmtMAC:        "52:54:00:00:00:01",
	}
	require.NoError(t, db.CreateHost(host))
	return host
}

func TestHostCRUD(t *testing.T) {
	db := setupDB(t)
	host := seedHost(t, db, "worker-0")
	require.NotZero(t, host.ID)

	t.Run("lookup by id, uuid and hostname", func(t *testing.T) {
		byID, err := db.GetHost(host.ID)
		require.NoError(t, err)
		assert.Equal(t, "worker-0", byID.Hostname)

		byUUID, err := db.GetHostByUUID(host.UUID)
		require.NoError(t, err)
		assert.Equal(t, host.ID, byUUID.ID)

		byName, err := db.GetHostByHostname("worker-0")
		require.NoError(t, err)
		assert.Equal(t, host.ID, byName.ID)
	})

	t.Run("missing host yields record-not-found", func(t *testing.T) {
		_, err := db.GetHostByUUID("no-such-uuid")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("update round-trips the in-flight marker", func(t *testing.T) {
		host.InFlight = models.InProgress(models.ActionLock)
		host.Task = "Locking"
		require.NoError(t, db.UpdateHost(host))

		got, err := db.GetHost(host.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ActionLock, got.InFlight.Action)
		assert.Equal(t, "Locking", got.Task)

		host.InFlight = models.InFlight{}
		host.Task = ""
		require.NoError(t, db.UpdateHost(host))

		got, err = db.GetHost(host.ID)
		require.NoError(t, err)
		assert.True(t, got.InFlight.Idle())
	})

	t.Run("duplicate hostname rejected", func(t *testing.T) {
		dup := &models.Host{UUID: "uuid-dup", Hostname: "worker-0"}
		assert.Error(t, db.CreateHost(dup))
	})

	t.Run("delete removes the record", func(t *testing.T) {
		require.NoError(t, db.DeleteHost(host.ID))
		_, err := db.GetHost(host.ID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestHostQueries(t *testing.T) {
	db := setupDB(t)

	c0 := &models.Host{UUID: "u-c0", Hostname: "controller-0", Personality: models.PersonalityController}
	c1 := &models.Host{UUID: "u-c1", Hostname: "controller-1", Personality: models.PersonalityController}
	w0 := seedHost(t, db, "worker-0")
	require.NoError(t, db.CreateHost(c0))
	require.NoError(t, db.CreateHost(c1))

	t.Run("all hosts", func(t *testing.T) {
		hosts, err := db.GetHosts()
		require.NoError(t, err)
		assert.Len(t, hosts, 3)
	})

	t.Run("by personality", func(t *testing.T) {
		controllers, err := db.GetHostsByPersonality(models.PersonalityController)
		require.NoError(t, err)
		assert.Len(t, controllers, 2)
	})

	t.Run("by peer set", func(t *testing.T) {
		peer := &models.Peer{UUID: "u-p0", Name: "storage-0"}
		require.NoError(t, db.CreatePeer(peer))

		w0.PeerID = &peer.ID
		require.NoError(t, db.UpdateHost(w0))

		members, err := db.GetHostsByPeerID(peer.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "worker-0", members[0].Hostname)

		got, err := db.GetPeer(peer.ID)
		require.NoError(t, err)
		assert.Equal(t, "storage-0", got.Name)
	})
}

func TestSystemRecord(t *testing.T) {
	db := setupDB(t)

	_, err := db.GetSystem()
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	system := &models.System{
		UUID:            "u-sys",
		Name:            "cloud",
		Mode:            models.SystemModeDuplex,
		SoftwareVersion: "25.03",
	}
	require.NoError(t, db.CreateSystem(system))

	got, err := db.GetSystem()
	require.NoError(t, err)
	assert.False(t, got.InitialConfigDone)

	got.InitialConfigDone = true
	require.NoError(t, db.UpdateSystem(got))

	got, err = db.GetSystem()
	require.NoError(t, err)
	assert.True(t, got.InitialConfigDone)
}

func TestWithTx(t *testing.T) {
	db := setupDB(t)

	t.Run("rollback on error", func(t *testing.T) {
		err := db.WithTx(func(tx *gorm.DB) error {
			if err := tx.Create(&models.Host{UUID: "u-tx", Hostname: "tx-host"}).Error; err != nil {
				return err
			}
			return gorm.ErrInvalidTransaction
		})
		require.Error(t, err)

		_, err = db.GetHostByHostname("tx-host")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("commit on success", func(t *testing.T) {
		err := db.WithTx(func(tx *gorm.DB) error {
			return tx.Create(&models.Host{UUID: "u-tx2", Hostname: "tx-host-2"}).Error
		})
		require.NoError(t, err)

		_, err = db.GetHostByHostname("tx-host-2")
		assert.NoError(t, err)
	})
}
