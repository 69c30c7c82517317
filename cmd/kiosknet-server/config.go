package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/transport"
)

// FileConfig is the YAML configuration file structure. Every value has a
// working default so a bare `kiosknet-server` starts a development server.
type FileConfig struct {
	Listen struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		FallbackPorts []int  `yaml:"fallbackPorts"`
	} `yaml:"listen"`

	TLS struct {
		Cert string `yaml:"cert"`
		Key  string `yaml:"key"`
	} `yaml:"tls"`

	Auth struct {
		// TokenSecret seeds app bearer-token derivation. Changing it
		// invalidates every issued token.
		TokenSecret string `yaml:"tokenSecret"`

		// EnrollmentToken, when set, is required from devices at
		// registration.
		EnrollmentToken string `yaml:"enrollmentToken"`

		// AutoAuthorizeApps grants every app a token without approval.
		AutoAuthorizeApps bool `yaml:"autoAuthorizeApps"`

		// AuthorizedApps are app IDs authorized as soon as they connect.
		AuthorizedApps []string `yaml:"authorizedApps"`
	} `yaml:"auth"`

	Layouts []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"layouts"`

	Discovery struct {
		Enabled bool   `yaml:"enabled"`
		Name    string `yaml:"name"`
	} `yaml:"discovery"`

	Log struct {
		Level string `yaml:"level"`

		// ProtocolLog is the path of the CBOR protocol event log
		// (readable with kiosknet-log). Empty disables capture.
		ProtocolLog string `yaml:"protocolLog"`
	} `yaml:"log"`

	Timeouts struct {
		ProvisionalSeconds int `yaml:"provisionalSeconds"`
		ShutdownSeconds    int `yaml:"shutdownSeconds"`
		PingSeconds        int `yaml:"pingSeconds"`
	} `yaml:"timeouts"`
}

// defaultFileConfig returns the configuration used when no file is given.
func defaultFileConfig() FileConfig {
	var cfg FileConfig
	cfg.Listen.Port = transport.DefaultPort
	cfg.Listen.FallbackPorts = []int{9444, 9445}
	cfg.TLS.Cert = "kiosknet-server.crt"
	cfg.TLS.Key = "kiosknet-server.key"
	cfg.Discovery.Enabled = true
	cfg.Log.Level = "info"
	return cfg
}

// loadConfig reads the YAML configuration file, starting from defaults.
func loadConfig(path string) (FileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// provisionalTimeout returns the configured provisional timeout, or 0 to
// use the service default.
func (c *FileConfig) provisionalTimeout() time.Duration {
	return time.Duration(c.Timeouts.ProvisionalSeconds) * time.Second
}

func (c *FileConfig) shutdownTimeout() time.Duration {
	return time.Duration(c.Timeouts.ShutdownSeconds) * time.Second
}

func (c *FileConfig) pingInterval() time.Duration {
	return time.Duration(c.Timeouts.PingSeconds) * time.Second
}
