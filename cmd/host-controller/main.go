package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratacloud/host-controller/internal/api"
	"github.com/stratacloud/host-controller/internal/conductor"
	"github.com/stratacloud/host-controller/internal/config"
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/migrations"
	"github.com/stratacloud/host-controller/internal/models"
	"github.com/stratacloud/host-controller/internal/mtce"
	"github.com/stratacloud/host-controller/internal/secrets"
	"github.com/stratacloud/host-controller/internal/services"
	"github.com/stratacloud/host-controller/internal/storage"
	"github.com/stratacloud/host-controller/internal/vim"
	"github.com/stratacloud/host-controller/internal/websocket"
	"github.com/stratacloud/host-controller/pkg/discovery"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "host-controller",
	Short: "Host lifecycle control plane",
	Long: `Host Controller manages the administrative lifecycle of the hosts in a
deployment: lock, unlock, swact, power and reinstall actions, with the
maintenance agent, workload orchestrator, and configuration conductor kept
in step through staged transitions.`,
	RunE: runServer,
}

var (
	configFile string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Host Controller %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	log, err := setupLogger()
	if err != nil {
		return errors.Wrapf(err, "failed to setup logger")
	}

	log.WithFields(map[string]interface{}{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting host controller")

	cfg, err := config.Load(configFile)
	if err != nil {
		return errors.Wrapf(err, "failed to load config")
	}

	db, err := storage.New(&cfg.Database, log)
	if err != nil {
		return errors.Wrapf(err, "failed to initialize database")
	}
	defer db.Close()

	creds, err := secrets.New(&cfg.Secrets, log)
	if err != nil {
		return errors.Wrapf(err, "failed to open credential store")
	}
	defer creds.Close()

	mtceClient := mtce.NewClient(cfg.Mtce, log)
	vimClient := vim.NewClient(cfg.Vim, log)
	conductorClient := conductor.NewClient(cfg.Conductor, log)

	// A typed nil must not reach the coordinator's publisher interface
	var events *websocket.Server
	var publisher services.EventPublisher
	if cfg.WebSocket.Enabled {
		events = websocket.New(&cfg.WebSocket, log)
		events.Start()
		defer events.Stop()
		publisher = events
	}

	hostService := services.NewHostService(db, mtceClient, vimClient, conductorClient, creds, publisher, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	serverErrors := make(chan error, 2)

	apiServer := api.New(cfg, log, db, hostService, events)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			serverErrors <- errors.Wrapf(err, "API server error")
		}
	}()

	var discoveryService *discovery.Service
	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		discoveryService, err = setupDiscovery(ctx, cfg, log, hostService)
		if err != nil {
			return err
		}
		defer discoveryService.Stop()

		advertiser = discovery.NewAdvertiser(&discovery.AdvertiserConfig{
			ServiceName: cfg.App.Name,
			ServiceType: "_host-controller._tcp",
			Domain:      "local",
			Port:        cfg.API.Port,
			HostName:    cfg.App.Name,
			TXTRecords:  map[string]string{"api": "v1"},
		}, logger.NewLogrus(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}))
		if err := advertiser.Start(ctx); err != nil {
			log.WithError(err).Warn("Failed to start mDNS advertising")
		} else {
			defer advertiser.Stop()
		}
	}

	log.Info("Host controller started")

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrors:
		log.WithError(err).Error("Server error occurred")
	}

	log.Info("Initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Error stopping API server")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout exceeded")
	}

	return nil
}

// setupDiscovery starts the maintenance agent browser and wires its events
// into host enrollment. A newly seen agent becomes an unprovisioned host
// record waiting for the operator to assign a personality.
func setupDiscovery(ctx context.Context, cfg *config.Config, log logger.Interface,
	hosts *services.HostService) (*discovery.Service, error) {

	discoveryService, err := discovery.NewService(&discovery.Config{
		Enabled:     cfg.Discovery.Enabled,
		Interface:   cfg.Discovery.Interface,
		Interval:    cfg.Discovery.Interval,
		Timeout:     cfg.Discovery.Timeout,
		ServiceType: cfg.Discovery.ServiceType,
		Domain:      "local",
	}, logger.NewLogrus(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create discovery service")
	}

	discoveryService.AddEventHandler(func(event discovery.AgentEvent) {
		if event.Type != discovery.AgentDiscovered {
			return
		}
		go enrollDiscoveredAgent(ctx, event.Agent, hosts, log)
	})

	if err := discoveryService.Start(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to start discovery service")
	}
	return discoveryService, nil
}

// enrollDiscoveredAgent creates a host record for an agent that is not yet
// in the inventory
func enrollDiscoveredAgent(ctx context.Context, agent discovery.Agent,
	hosts *services.HostService, log logger.Interface) {

	if _, err := hosts.GetByHostname(agent.Hostname); err == nil {
		return
	} else if !services.IsNotFound(err) {
		log.WithError(err).WithField("hostname", agent.Hostname).
			Error("Failed to check for existing host")
		return
	}

	host, err := hosts.Create(ctx, services.CreateHostRequest{
		Hostname: agent.Hostname,
		MgmtIP:   agent.IPAddress,
		MgmtMAC:  agent.MgmtMAC,
	})
	if err != nil {
		if services.IsAlreadyExists(err) {
			return
		}
		log.WithError(err).WithField("hostname", agent.Hostname).
			Error("Failed to enroll discovered host")
		return
	}

	log.WithFields(map[string]interface{}{
		"hostname":   host.Hostname,
		"uuid":       host.UUID,
		"ip_address": agent.IPAddress,
	}).Info("Enrolled host from discovery")
}

func setupLogger() (*logger.Logger, error) {
	cfg := logger.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: "stdout",
	}

	log, err := logger.New(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create logger")
	}
	logger.SetDefault(log)
	return log, nil
}

// Migration command handlers

func setupMigrationEnvironment() (*logger.Logger, *storage.Database, error) {
	log, err := setupLogger()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load config")
	}

	db, err := storage.NewWithoutMigration(&cfg.Database, log)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database")
	}

	return log, db, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	log, db, err := setupMigrationEnvironment()
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB(), log)

	log.Info("Running database migrations")
	if err := migrator.Up(); err != nil {
		return errors.Wrapf(err, "failed to run migrations")
	}

	log.Info("Migrations completed successfully")
	return ensureSystemRecord(db, log)
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	log, db, err := setupMigrationEnvironment()
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB(), log)

	log.Info("Rolling back last migration")
	if err := migrator.Down(); err != nil {
		return errors.Wrapf(err, "failed to rollback migration")
	}

	log.Info("Migration rollback completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	log, db, err := setupMigrationEnvironment()
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB(), log)

	statuses, err := migrator.Status()
	if err != nil {
		return errors.Wrapf(err, "failed to get migration status")
	}

	if len(statuses) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	fmt.Println("Migration Status:")
	fmt.Println("=================")
	for _, status := range statuses {
		statusStr := "PENDING"
		appliedAt := ""
		if status.Applied {
			statusStr = "APPLIED"
			if status.AppliedAt != nil {
				appliedAt = fmt.Sprintf(" (applied at %s)", status.AppliedAt.Format("2006-01-02 15:04:05"))
			}
		}
		fmt.Printf("%-18s %s - %s%s\n", status.ID, statusStr, status.Description, appliedAt)
	}

	return nil
}

// ensureSystemRecord seeds the singleton system row on first migration
func ensureSystemRecord(db *storage.Database, log *logger.Logger) error {
	if _, err := db.GetSystem(); err == nil {
		return nil
	}

	system := &models.System{
		Mode:            models.SystemModeDuplex,
		SoftwareVersion: version,
	}
	if err := db.CreateSystem(system); err != nil {
		return errors.Wrapf(err, "failed to create system record")
	}

	log.WithField("system_mode", system.Mode).Info("Created initial system record")
	return nil
}
