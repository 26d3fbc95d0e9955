package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Bridge  BridgeConfig
	Device  DeviceConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type BridgeConfig struct {
	Variant      string
	PageURL      string
	VariantsFile string
	FlowTimeout  string
	Opener       string
}

type DeviceConfig struct {
	AckTimeout string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Opener names accepted by bridge.opener.
const (
	OpenerBrowser = "browser"
	OpenerLog     = "log"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4080,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Bridge: BridgeConfig{
			Variant:     "classic",
			FlowTimeout: "10m",
			Opener:      OpenerBrowser,
		},
		Device: DeviceConfig{
			AckTimeout: "10s",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.jnoelg.watchbridge).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/watchbridge/config.json.
//
// Environment variables (WATCHBRIDGE_*) override backend values on all
// platforms. The API token is only read from WATCHBRIDGE_API_TOKEN.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := c.FlowTimeout(); err != nil {
		return err
	}
	if _, err := c.AckTimeout(); err != nil {
		return err
	}
	switch c.Bridge.Opener {
	case OpenerBrowser, OpenerLog:
	default:
		return fmt.Errorf("invalid bridge.opener %q (want %s or %s)", c.Bridge.Opener, OpenerBrowser, OpenerLog)
	}
	return nil
}

// FlowTimeout parses bridge.flow_timeout.
func (c Config) FlowTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Bridge.FlowTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid bridge.flow_timeout %q: %w", c.Bridge.FlowTimeout, err)
	}
	return d, nil
}

// AckTimeout parses device.ack_timeout.
func (c Config) AckTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Device.AckTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid device.ack_timeout %q: %w", c.Device.AckTimeout, err)
	}
	return d, nil
}
