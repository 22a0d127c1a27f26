package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/stratacloud/host-controller/internal/conductor"
	"github.com/stratacloud/host-controller/internal/mtce"
	"github.com/stratacloud/host-controller/internal/secrets"
	"github.com/stratacloud/host-controller/internal/storage"
	"github.com/stratacloud/host-controller/internal/vim"
)

// Config holds the entire application configuration
type Config struct {
	// Application settings
	App AppConfig `yaml:"app"`

	// Database configuration
	Database storage.Config `yaml:"database"`

	// API server configuration
	API APIConfig `yaml:"api"`

	// WebSocket event stream configuration
	WebSocket WebSocketConfig `yaml:"websocket"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Host discovery configuration
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Maintenance agent client configuration
	Mtce mtce.Config `yaml:"maintenance"`

	// Workload orchestrator client configuration
	Vim vim.Config `yaml:"orchestrator"`

	// Conductor client configuration
	Conductor conductor.Config `yaml:"conductor"`

	// Board-management credential store configuration
	Secrets secrets.Config `yaml:"secrets"`
}

// AppConfig contains general application settings
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	DataDir     string `yaml:"data_dir"`
	Debug       bool   `yaml:"debug"`
}

// APIConfig contains REST API server settings
type APIConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	TLSCertFile  string `yaml:"tls_cert_file"`
	TLSKeyFile   string `yaml:"tls_key_file"`
	CORSEnabled  bool   `yaml:"cors_enabled"`
	AuthEnabled  bool   `yaml:"auth_enabled"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// WebSocketConfig contains event stream settings
type WebSocketConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	CheckOrigin     bool   `yaml:"check_origin"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// DiscoveryConfig contains maintenance agent discovery settings
type DiscoveryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Interface   string `yaml:"interface"`
	Interval    string `yaml:"interval"`
	Timeout     string `yaml:"timeout"`
	ServiceName string `yaml:"service_name"`
	ServiceType string `yaml:"service_type"`
}

// Load loads configuration from YAML file with defaults
func Load(configPath string) (*Config, error) {
	config := getDefaults()

	var configFile string
	if configPath != "" {
		configFile = configPath
	} else {
		searchPaths := []string{
			"./host-controller.yaml",
			"./config/host-controller.yaml",
			"/etc/host-controller/host-controller.yaml",
			filepath.Join(os.Getenv("HOME"), ".host-controller", "host-controller.yaml"),
		}
		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	applyEnvOverrides(&config)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// validate validates the configuration and sets derived values
func (c *Config) validate() error {
	if c.App.DataDir != "" {
		if err := os.MkdirAll(c.App.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if !filepath.IsAbs(c.Database.Path) {
			c.Database.Path = filepath.Join(c.App.DataDir, c.Database.Path)
		}
		if !filepath.IsAbs(c.Secrets.Path) {
			c.Secrets.Path = filepath.Join(c.App.DataDir, c.Secrets.Path)
		}
		if c.Secrets.KeyFile != "" && !filepath.IsAbs(c.Secrets.KeyFile) {
			c.Secrets.KeyFile = filepath.Join(c.App.DataDir, c.Secrets.KeyFile)
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level '%s': %w", c.Log.Level, err)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}

	for name, addr := range map[string]string{
		"maintenance":  c.Mtce.Address,
		"orchestrator": c.Vim.Address,
		"conductor":    c.Conductor.Address,
	} {
		if addr == "" {
			return fmt.Errorf("%s client address must be set", name)
		}
	}

	return nil
}

// getDefaults returns a Config struct with default values based on environment
func getDefaults() Config {
	env := os.Getenv("HOST_CONTROLLER_ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}

	if env == "development" || env == "dev" {
		return getDevelopmentDefaults()
	}
	return getProductionDefaults()
}

// getDevelopmentDefaults returns development-friendly defaults
func getDevelopmentDefaults() Config {
	config := getProductionDefaults()
	config.App.Environment = "development"
	config.API.TLSCertFile = ""
	config.API.TLSKeyFile = ""
	config.API.AuthEnabled = false
	config.Log.Format = "text"
	config.Log.Level = "debug"
	return config
}

// getProductionDefaults returns secure production defaults
func getProductionDefaults() Config {
	return Config{
		App: AppConfig{
			Name:        "host-controller",
			Version:     "dev",
			Environment: "production",
			DataDir:     "./data",
			Debug:       false,
		},
		Database: storage.Config{
			Path:            "host-controller.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
			LogLevel:        "warn",
		},
		API: APIConfig{
			Host:         "0.0.0.0",
			Port:         6385,
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
			TLSCertFile:  "/etc/host-controller/tls/server.crt",
			TLSKeyFile:   "/etc/host-controller/tls/server.key",
			CORSEnabled:  true,
			AuthEnabled:  true,
			JWTSecretEnv: "HOST_CONTROLLER_JWT_SECRET",
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws/events",
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			Interval:    "30s",
			Timeout:     "5s",
			ServiceName: "host-controller",
			ServiceType: "_host-mtce._tcp",
		},
		Mtce: mtce.Config{
			Address: "http://localhost:2112",
			Timeout: 45 * time.Second,
		},
		Vim: vim.Config{
			Address: "http://localhost:4545",
			Timeout: 30 * time.Second,
		},
		Conductor: conductor.Config{
			Address: "http://localhost:6389",
			Timeout: 60 * time.Second,
		},
		Secrets: secrets.Config{
			Path:             "secrets.db",
			KeyFile:          "secrets.key",
			PassphraseEnv:    "HOST_CONTROLLER_SECRETS_PASSPHRASE",
			PBKDF2Iterations: 100000,
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("HOST_CONTROLLER_API_PORT"); env != "" {
		if port := parseIntEnv(env); port > 0 {
			config.API.Port = port
		}
	}
	if env := os.Getenv("HOST_CONTROLLER_API_HOST"); env != "" {
		config.API.Host = env
	}
	if env := os.Getenv("HOST_CONTROLLER_LOG_LEVEL"); env != "" {
		config.Log.Level = env
	}
	if env := os.Getenv("HOST_CONTROLLER_DEBUG"); env == "true" {
		config.App.Debug = true
	}
	if env := os.Getenv("HOST_CONTROLLER_DATA_DIR"); env != "" {
		config.App.DataDir = env
	}
	if env := os.Getenv("HOST_CONTROLLER_MTCE_ADDRESS"); env != "" {
		config.Mtce.Address = env
	}
	if env := os.Getenv("HOST_CONTROLLER_VIM_ADDRESS"); env != "" {
		config.Vim.Address = env
	}
	if env := os.Getenv("HOST_CONTROLLER_CONDUCTOR_ADDRESS"); env != "" {
		config.Conductor.Address = env
	}
}

// parseIntEnv safely parses an integer from environment variable
func parseIntEnv(env string) int {
	var i int
	if _, err := fmt.Sscanf(env, "%d", &i); err == nil {
		return i
	}
	return 0
}

// GetAddress returns the formatted address for the API server
func (c *APIConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsTLSEnabled returns true if TLS is configured for the API
func (c *APIConfig) IsTLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
