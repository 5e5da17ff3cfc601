package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"github.com/tphan267/meshtalk/pkg/utils"
	"go.yaml.in/yaml/v3"
)

var cfg *Config

// Config holds the application configuration
type Config struct {
	ServerAddr           string `yaml:"server_addr"`            // HTTP API listen address (register/login)
	SignalAddr           string `yaml:"signal_addr"`            // WebSocket signaling listen address
	DBPath               string `yaml:"db_path"`                // SQLite database for user accounts
	LogLevel             string `yaml:"log_level"`
	AllowedOrigin        string `yaml:"allowed_origin"`         // WebSocket origin check; "*" disables it
	ReconnectIntervalSec int    `yaml:"reconnect_interval_sec"` // client-side signaling reconnect interval

	Version string `yaml:"-"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

func (c *Config) GetServerPort() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return strings.Split(c.ServerAddr, ":")[1]
}

// ReconnectInterval returns the signaling reconnect interval as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Duration(c.ReconnectIntervalSec) * time.Second
}

// Save writes the current configuration back to the file
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	err = os.WriteFile(c.file, data, 0o644)
	if err != nil {
		return err
	}

	return nil
}

// EnsureDefaultConfig sets default values for missing config fields
func (c *Config) EnsureDefaultConfig(save bool) error {
	changed := false
	c.mu.Lock()

	// Env overrides
	if addr := utils.Env("MESHTALK_SERVER_ADDR", ""); addr != "" {
		c.ServerAddr = addr
	}

	if addr := utils.Env("MESHTALK_SIGNAL_ADDR", ""); addr != "" {
		c.SignalAddr = addr
	}

	if logLevel := utils.Env("MESHTALK_LOG_LEVEL", ""); logLevel != "" {
		c.LogLevel = logLevel
	}

	// Create defaults
	if c.ServerAddr == "" {
		c.ServerAddr = ":3030"
		changed = true
	}

	if c.SignalAddr == "" {
		c.SignalAddr = ":8081"
		changed = true
	}

	if c.DBPath == "" {
		dir := filepath.Dir(c.file)
		c.DBPath = dir + "/meshtalk.db"
		changed = true
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
		changed = true
	}

	if c.AllowedOrigin == "" {
		c.AllowedOrigin = "*"
		changed = true
	}

	if c.ReconnectIntervalSec <= 0 {
		c.ReconnectIntervalSec = 5
		changed = true
	}

	c.mu.Unlock()

	if changed && save {
		return c.Save()
	}
	return nil
}

// ConfigInstance returns the global config instance
func ConfigInstance() *Config {
	return cfg
}

// Load loads configuration from the specified file and environment variables
func Load(version, file, logLevel string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg = &Config{
		Version: version,
		file:    file,
	}

	yamlFeeder := feeder.Yaml{Path: file}
	_ = config.New().AddFeeder(yamlFeeder).AddStruct(cfg).Feed()

	if err := cfg.EnsureDefaultConfig(true); err != nil {
		return nil, err
	}

	// Override log level from command-line argument
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	return cfg, nil
}
