// Package mtce is the synchronous client for the maintenance agent, the
// external daemon that physically actuates hosts.
package mtce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stratacloud/host-controller/internal/action"
	"github.com/stratacloud/host-controller/internal/errors"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/models"
)

// Config contains maintenance agent client configuration
type Config struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns default maintenance client configuration
func DefaultConfig() Config {
	return Config{
		Address: "http://localhost:2112",
		Timeout: 45 * time.Second,
	}
}

// Client talks to the maintenance agent over its JSON command interface
type Client struct {
	config Config
	http   *http.Client
	logger logger.Interface
}

// NewClient creates a maintenance agent client
func NewClient(config Config, log logger.Interface) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: log.WithField("component", "mtce-client"),
	}
}

// SanitizedHost is the projection of a host record the maintenance agent
// recognizes. Fields the agent does not know are excluded rather than sent.
type SanitizedHost struct {
	UUID           string `json:"uuid"`
	Hostname       string `json:"hostname"`
	Personality    string `json:"personality"`
	Subfunctions   string `json:"subfunctions"`
	Administrative string `json:"administrative"`
	Operational    string `json:"operational"`
	Availability   string `json:"availability"`
	MgmtIP         string `json:"mgmt_ip"`
	MgmtMAC        string `json:"mgmt_mac"`
	BMType         string `json:"bm_type,omitempty"`
	BMIP           string `json:"bm_ip,omitempty"`
	BMUsername     string `json:"bm_username,omitempty"`
}

// request is the wire form of a maintenance command
type request struct {
	Operation string        `json:"operation"`
	Action    string        `json:"action,omitempty"`
	Host      SanitizedHost `json:"host"`
}

// Response is the maintenance agent's verdict on a command
type Response struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Action string `json:"action,omitempty"`
}

const (
	StatusPass = "pass"
	StatusFail = "fail"
)

// Sanitize projects a host record onto the fields the agent recognizes
func Sanitize(h *models.Host) SanitizedHost {
	return SanitizedHost{
		UUID:           h.UUID,
		Hostname:       h.Hostname,
		Personality:    string(h.Personality),
		Subfunctions:   h.Subfunctions,
		Administrative: string(h.Administrative),
		Operational:    string(h.Operational),
		Availability:   string(h.Availability),
		MgmtIP:         h.MgmtIP,
		MgmtMAC:        h.MgmtMAC,
		BMType:         h.BMType,
		BMIP:           h.BMIP,
		BMUsername:     h.BMUsername,
	}
}

// Send issues one command to the maintenance agent and waits for its verdict.
// No response within the configured timeout is treated identically to an
// explicit fail with reason "no response": the remote side may or may not
// have acted, and this client never tries to find out.
func (c *Client) Send(ctx context.Context, op action.Operation, host *models.Host, act models.Action) (*Response, error) {
	payload := request{
		Operation: string(op),
		Host:      Sanitize(host),
	}
	if act != "" && act != models.ActionNone {
		payload.Action = string(act)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal maintenance command")
	}

	log := c.logger.WithFields(map[string]interface{}{
		"hostname":  host.Hostname,
		"operation": op,
		"action":    act,
	})
	log.Debug("Sending maintenance command")

	url := fmt.Sprintf("%s/v1/hosts", c.config.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build maintenance request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("Maintenance agent did not respond")
		return nil, errors.NewCollaboratorTimeout("maintenance agent", string(op))
	}
	defer resp.Body.Close()

	var verdict Response
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		log.WithError(err).Warn("Unreadable maintenance response")
		return nil, errors.NewCollaboratorTimeout("maintenance agent", string(op))
	}

	switch verdict.Status {
	case StatusPass:
		return &verdict, nil
	case StatusFail:
		return &verdict, errors.NewCollaboratorRejected(
			"maintenance agent", string(op), verdict.Reason, verdict.Action)
	default:
		return &verdict, errors.NewCollaboratorTimeout("maintenance agent", string(op))
	}
}
