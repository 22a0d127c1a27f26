// Package vim is the client for the workload orchestrator, which must
// evacuate and re-admit workloads around host transitions.
package vim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stratacloud/host-controller/internal/action"
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
)

// Config contains orchestrator client configuration
type Config struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns default orchestrator client configuration
func DefaultConfig() Config {
	return Config{
		Address: "http://localhost:4545",
		Timeout: 30 * time.Second,
	}
}

// Client talks to the orchestrator over its notification interface
type Client struct {
	config Config
	http   *http.Client
	logger logger.Interface
}

// NewClient creates an orchestrator client
func NewClient(config Config, log logger.Interface) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: log.WithField("component", "vim-client"),
	}
}

// notification is the wire form of a host lifecycle notification. Only
// identity and lifecycle fields travel; the orchestrator keeps its own view
// of everything else.
type notification struct {
	Operation      string `json:"operation"`
	Action         string `json:"action,omitempty"`
	UUID           string `json:"uuid"`
	Hostname       string `json:"hostname"`
	Personality    string `json:"personality"`
	Subfunctions   string `json:"subfunctions"`
	Administrative string `json:"administrative"`
	Operational    string `json:"operational"`
	Availability   string `json:"availability"`
}

// Notify reports a host lifecycle change to the orchestrator. There is no
// structured response: HTTP success is success, anything else is a transport
// error for the caller to judge. Force variants and delete swallow it; a
// periodic audit reconciles what this best-effort notice misses.
func (c *Client) Notify(ctx context.Context, op action.Operation, host *models.Host, act models.Action) error {
	n := notification{
		Operation:      string(op),
		UUID:           host.UUID,
		Hostname:       host.Hostname,
		Personality:    string(host.Personality),
		Subfunctions:   host.Subfunctions,
		Administrative: string(host.Administrative),
		Operational:    string(host.Operational),
		Availability:   string(host.Availability),
	}
	if act != "" && act != models.ActionNone {
		n.Action = string(act)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal orchestrator notification")
	}

	url := fmt.Sprintf("%s/v1/hosts/notify", c.config.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build orchestrator request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"hostname":  host.Hostname,
			"operation": op,
		}).WithError(err).Warn("Orchestrator notification failed")
		return errors.NewCollaboratorTimeout("orchestrator", string(op))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.NewCollaboratorRejected("orchestrator", string(op),
			fmt.Sprintf("unexpected status %d", resp.StatusCode), "retry")
	}
	return nil
}

// preCheckResponse is the orchestrator's answer to a lock pre-check
type preCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PreCheck asks the orchestrator whether workloads on the host can be
// evacuated before a lock proceeds
func (c *Client) PreCheck(ctx context.Context, host *models.Host) error {
	url := fmt.Sprintf("%s/v1/hosts/%s/lock-precheck", c.config.Address, host.UUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build orchestrator request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewCollaboratorTimeout("orchestrator", "lock pre-check")
	}
	defer resp.Body.Close()

	var verdict preCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return errors.NewCollaboratorTimeout("orchestrator", "lock pre-check")
	}
	if !verdict.Allowed {
		return errors.NewCollaboratorRejected("orchestrator", "lock pre-check",
			verdict.Reason, "migrate or terminate the affected workloads")
	}
	return nil
}

// busyResponse is the orchestrator's application activity report
type busyResponse struct {
	Busy bool `json:"busy"`
}

// ApplicationsBusy reports whether a managed application operation is in
// progress anywhere in the fleet
func (c *Client) ApplicationsBusy(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/v1/applications/busy", c.config.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errors.Wrap(err, "build orchestrator request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.NewCollaboratorTimeout("orchestrator", "application status")
	}
	defer resp.Body.Close()

	var status busyResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, errors.NewCollaboratorTimeout("orchestrator", "application status")
	}
	return status.Busy, nil
}
