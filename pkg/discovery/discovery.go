// Package discovery locates maintenance agents on the management network
// and announces the controller endpoint to them.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// Agent is a maintenance agent found on the management network
type Agent struct {
	Hostname   string            `json:"hostname"`
	IPAddress  string            `json:"ip_address"`
	Port       int               `json:"port"`
	MgmtMAC    string            `json:"mgmt_mac"`
	TXTRecords map[string]string `json:"txt_records"`
	LastSeen   time.Time         `json:"last_seen"`
}

// AgentEventType classifies a discovery event
type AgentEventType string

const (
	AgentDiscovered AgentEventType = "discovered"
	AgentUpdated    AgentEventType = "updated"
	AgentLost       AgentEventType = "lost"
)

// AgentEvent is delivered to registered handlers on agent state changes
type AgentEvent struct {
	Type  AgentEventType `json:"type"`
	Agent Agent          `json:"agent"`
}

// AgentEventHandler handles agent discovery events
type AgentEventHandler func(event AgentEvent)

// Config holds discovery service settings
type Config struct {
	Enabled      bool     `yaml:"enabled"`
	Interface    string   `yaml:"interface"`
	Interval     string   `yaml:"interval"`
	Timeout      string   `yaml:"timeout"`
	ServiceType  string   `yaml:"service_type"`
	Domain       string   `yaml:"domain"`
	StaticAgents []string `yaml:"static_agents"`
}

// DefaultConfig returns default discovery configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Interval:    "30s",
		Timeout:     "5s",
		ServiceType: "_host-mtce._tcp",
		Domain:      "local",
	}
}

// Service browses the management network for maintenance agents. Each
// browse cycle queries mDNS, updates the agent table, and reports agents
// that appeared, changed address, or fell silent.
type Service struct {
	config   *Config
	logger   *logrus.Entry
	iface    *net.Interface
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	agents   map[string]*Agent
	handlers []AgentEventHandler
	running  bool
	stopChan chan struct{}
}

// NewService creates a discovery service
func NewService(config *Config, logger *logrus.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}

	interval, err := time.ParseDuration(config.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid interval: %w", err)
	}
	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}

	s := &Service{
		config:   config,
		logger:   logger.WithField("component", "discovery"),
		interval: interval,
		timeout:  timeout,
		agents:   make(map[string]*Agent),
		stopChan: make(chan struct{}),
	}

	if config.Interface != "" {
		iface, err := net.InterfaceByName(config.Interface)
		if err != nil {
			return nil, fmt.Errorf("discovery interface %s: %w", config.Interface, err)
		}
		s.iface = iface
	}

	return s, nil
}

// Start begins the periodic browse loop
func (s *Service) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Agent discovery disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("discovery service is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"service_type": s.config.ServiceType,
		"interval":     s.config.Interval,
	}).Info("Starting agent discovery")

	s.loadStaticAgents()

	go s.browseLoop(ctx)
	go s.expireLoop(ctx)

	return nil
}

// Stop halts the browse loop
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.logger.Info("Stopping agent discovery")
	close(s.stopChan)
	s.running = false
	return nil
}

// AddEventHandler registers a handler for agent events. Handlers run on the
// browse goroutine and must not block.
func (s *Service) AddEventHandler(handler AgentEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Agents returns a snapshot of the agent table
func (s *Service) Agents() []Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, *a)
	}
	return agents
}

func (s *Service) browseLoop(ctx context.Context) {
	// Browse once immediately so enrollment does not wait a full interval
	s.browse()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.browse()
		}
	}
}

// browse runs a single mDNS query cycle
func (s *Service) browse() {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			s.observe(entry)
		}
	}()

	params := &mdns.QueryParam{
		Service:     s.config.ServiceType,
		Domain:      s.config.Domain,
		Timeout:     s.timeout,
		Entries:     entries,
		Interface:   s.iface,
		DisableIPv6: true,
	}
	if err := mdns.Query(params); err != nil {
		s.logger.WithError(err).Warn("mDNS query failed")
	}
	close(entries)
	<-done
}

// observe folds a service entry into the agent table
func (s *Service) observe(entry *mdns.ServiceEntry) {
	if entry.AddrV4 == nil {
		return
	}

	txt := parseTXT(entry.InfoFields)
	agent := &Agent{
		Hostname:   strings.TrimSuffix(entry.Host, "."),
		IPAddress:  entry.AddrV4.String(),
		Port:       entry.Port,
		MgmtMAC:    txt["mgmt_mac"],
		TXTRecords: txt,
		LastSeen:   time.Now(),
	}
	if name := txt["hostname"]; name != "" {
		agent.Hostname = name
	}
	if agent.Hostname == "" {
		return
	}

	s.mu.Lock()
	prev, known := s.agents[agent.Hostname]
	s.agents[agent.Hostname] = agent
	handlers := make([]AgentEventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	eventType := AgentDiscovered
	if known {
		if prev.IPAddress == agent.IPAddress && prev.MgmtMAC == agent.MgmtMAC {
			return
		}
		eventType = AgentUpdated
	}

	s.logger.WithFields(logrus.Fields{
		"hostname":   agent.Hostname,
		"ip_address": agent.IPAddress,
		"mgmt_mac":   agent.MgmtMAC,
		"event":      eventType,
	}).Info("Maintenance agent observed")

	for _, h := range handlers {
		h(AgentEvent{Type: eventType, Agent: *agent})
	}
}

// expireLoop retires agents that have not answered for three intervals
func (s *Service) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

func (s *Service) expire() {
	cutoff := time.Now().Add(-3 * s.interval)

	s.mu.Lock()
	var lost []Agent
	for name, agent := range s.agents {
		if agent.LastSeen.Before(cutoff) && !strings.HasPrefix(name, "static-") {
			lost = append(lost, *agent)
			delete(s.agents, name)
		}
	}
	handlers := make([]AgentEventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, agent := range lost {
		s.logger.WithField("hostname", agent.Hostname).Info("Maintenance agent lost")
		for _, h := range handlers {
			h(AgentEvent{Type: AgentLost, Agent: agent})
		}
	}
}

// loadStaticAgents seeds the table from configuration for networks where
// multicast DNS is filtered
func (s *Service) loadStaticAgents() {
	for i, addr := range s.config.StaticAgents {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": addr,
				"error":   err,
			}).Warn("Invalid static agent address")
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			s.logger.WithField("address", addr).Warn("Invalid static agent port")
			continue
		}

		agent := &Agent{
			Hostname:   fmt.Sprintf("static-%d", i),
			IPAddress:  host,
			Port:       port,
			TXTRecords: map[string]string{},
			LastSeen:   time.Now(),
		}

		s.mu.Lock()
		s.agents[agent.Hostname] = agent
		handlers := make([]AgentEventHandler, len(s.handlers))
		copy(handlers, s.handlers)
		s.mu.Unlock()

		for _, h := range handlers {
			h(AgentEvent{Type: AgentDiscovered, Agent: *agent})
		}
	}
}

// parseTXT splits key=value TXT records into a map
func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, f := range fields {
		if k, v, found := strings.Cut(f, "="); found {
			txt[k] = v
		} else if f != "" {
			txt[f] = ""
		}
	}
	return txt
}
