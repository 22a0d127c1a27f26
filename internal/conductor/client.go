// Package conductor is the client for the configuration conductor, the
// privileged internal service that applies configuration to hosts.
package conductor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
)

// Config contains conductor client configuration
type Config struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns default conductor client configuration
func DefaultConfig() Config {
	return Config{
		Address: "http://localhost:6385",
		Timeout: 60 * time.Second,
	}
}

// Client talks to the conductor's configuration interface
type Client struct {
	config Config
	http   *http.Client
	logger logger.Interface
}

// NewClient creates a conductor client
func NewClient(config Config, log logger.Interface) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: log.WithField("component", "conductor-client"),
	}
}

// ConfigureResult carries host fields the conductor revised while applying
// configuration
type ConfigureResult struct {
	MgmtIP       string `json:"mgmt_ip,omitempty"`
	ConfigTarget string `json:"config_target,omitempty"`
}

// Configure asks the conductor to apply configuration to a host. The result
// may revise the management address.
func (c *Client) Configure(ctx context.Context, host *models.Host) (*ConfigureResult, error) {
	var result ConfigureResult
	if err := c.post(ctx, fmt.Sprintf("/v1/hosts/%s/configure", host.UUID), host, &result); err != nil {
		return nil, err
	}
	c.logger.WithField("hostname", host.Hostname).Info("Host configuration applied")
	return &result, nil
}

// Unconfigure removes host configuration. Used as the compensating action
// when a provisioning create fails downstream.
func (c *Client) Unconfigure(ctx context.Context, host *models.Host) error {
	if err := c.post(ctx, fmt.Sprintf("/v1/hosts/%s/unconfigure", host.UUID), host, nil); err != nil {
		return err
	}
	c.logger.WithField("hostname", host.Hostname).Info("Host configuration removed")
	return nil
}

// PersistDefaultConfig asks the conductor to persist the system default
// configuration. Called exactly once, on the first successful enablement of
// the first controller.
func (c *Client) PersistDefaultConfig(ctx context.Context) error {
	return c.post(ctx, "/v1/system/default-config", nil, nil)
}

// UpdateClockSync pushes a revised clock synchronization mode for a host
func (c *Client) UpdateClockSync(ctx context.Context, host *models.Host) error {
	body := map[string]string{"clock_synchronization": string(host.ClockSync)}
	return c.post(ctx, fmt.Sprintf("/v1/hosts/%s/clock-sync", host.UUID), body, nil)
}

// upgradeResponse is the conductor's upgrade stage report
type upgradeResponse struct {
	InProgress bool `json:"in_progress"`
}

// UpgradeInProgress reports whether a software upgrade stage currently
// forbids host unlocks
func (c *Client) UpgradeInProgress(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/v1/upgrade/status", c.config.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, "build conductor request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.NewCollaboratorTimeout("conductor", "upgrade status")
	}
	defer resp.Body.Close()

	var status upgradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, errors.NewCollaboratorTimeout("conductor", "upgrade status")
	}
	return status.InProgress, nil
}

// post issues one JSON call to the conductor and decodes the result when out
// is non-nil
func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal conductor request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Address+path, body)
	if err != nil {
		return errors.Wrap(err, "build conductor request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewCollaboratorTimeout("conductor", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.NewCollaboratorRejected("conductor", path,
			fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)), "")
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode conductor response")
		}
	}
	return nil
}
