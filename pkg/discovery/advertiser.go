package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// AdvertiserConfig holds mDNS advertisement settings for the controller
type AdvertiserConfig struct {
	ServiceName string            `yaml:"service_name"`
	ServiceType string            `yaml:"service_type"`
	Domain      string            `yaml:"domain"`
	Port        int               `yaml:"port"`
	HostName    string            `yaml:"hostname"`
	TXTRecords  map[string]string `yaml:"txt_records"`
}

// DefaultAdvertiserConfig returns default advertiser configuration
func DefaultAdvertiserConfig() *AdvertiserConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "host-controller"
	}

	return &AdvertiserConfig{
		ServiceName: hostname,
		ServiceType: "_host-controller._tcp",
		Domain:      "local",
		Port:        6385,
		HostName:    hostname,
		TXTRecords: map[string]string{
			"api": "v1",
		},
	}
}

// Advertiser announces the controller API endpoint over mDNS so maintenance
// agents can find it without static configuration
type Advertiser struct {
	config   *AdvertiserConfig
	logger   *logrus.Entry
	server   *mdns.Server
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewAdvertiser creates an mDNS advertiser
func NewAdvertiser(config *AdvertiserConfig, logger *logrus.Logger) *Advertiser {
	if config == nil {
		config = DefaultAdvertiserConfig()
	}
	return &Advertiser{
		config:   config,
		logger:   logger.WithField("component", "mdns-advertiser"),
		stopChan: make(chan struct{}),
	}
}

// Start begins advertising the controller endpoint
func (a *Advertiser) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("advertiser is already running")
	}

	ip, err := a.primaryIP()
	if err != nil {
		return fmt.Errorf("failed to determine advertise address: %w", err)
	}

	txt := make([]string, 0, len(a.config.TXTRecords))
	for key, value := range a.config.TXTRecords {
		if value != "" {
			txt = append(txt, key+"="+value)
		} else {
			txt = append(txt, key)
		}
	}

	service, err := mdns.NewMDNSService(
		a.config.ServiceName,
		a.config.ServiceType,
		a.config.Domain,
		a.config.HostName,
		a.config.Port,
		[]net.IP{ip},
		txt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mDNS server: %w", err)
	}

	a.server = server
	a.running = true

	a.logger.WithFields(logrus.Fields{
		"service_name": a.config.ServiceName,
		"service_type": a.config.ServiceType,
		"port":         a.config.Port,
		"ip_address":   ip.String(),
	}).Info("Started mDNS advertising")

	go a.watchContext(ctx)
	return nil
}

// Stop withdraws the advertisement
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	close(a.stopChan)
	a.running = false

	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown mDNS server: %w", err)
		}
		a.server = nil
	}

	a.logger.Info("Stopped mDNS advertising")
	return nil
}

// IsRunning reports whether the advertisement is active
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Advertiser) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		if err := a.Stop(); err != nil {
			a.logger.WithError(err).Warn("Error stopping advertiser")
		}
	case <-a.stopChan:
	}
}

// primaryIP picks the first non-loopback unicast IPv4 address. The
// management network is assumed to carry the default route.
func (a *Advertiser) primaryIP() (net.IP, error) {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", 2*time.Second)
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil {
			return addr.IP, nil
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no usable IPv4 address found")
}
