package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"db-firewall-proxy/internal/wire"
)

const (
	defaultMaxFrameSize = 16 * 1024 * 1024
	defaultIdleTimeout  = 5 * time.Minute
)

type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

type TLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CertPath     string `yaml:"cert_path"`
	KeyPath      string `yaml:"key_path"`
	ClientCAPath string `yaml:"client_ca_path"`
}

type NotifierConfig struct {
	Enabled bool      `yaml:"enabled"`
	Listen  Endpoint  `yaml:"listen"`
	TLS     TLSConfig `yaml:"tls"`
}

// Config is the process configuration surface: fixed at startup, immutable
// for the process lifetime. Policy and decoy files are reloadable separately.
type Config struct {
	Variant      wire.Variant  `yaml:"variant"`
	Listen       Endpoint      `yaml:"listen"`
	Backend      Endpoint      `yaml:"backend"`
	MaxFrameSize uint32        `yaml:"max_frame_size"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	PolicyPath string `yaml:"policy_path"`
	DecoyPath  string `yaml:"decoy_path"`

	Notifier NotifierConfig `yaml:"notifier"`
}

func (c *Config) Validate() error {
	switch c.Variant {
	case wire.VariantPostgres, wire.VariantMySQL:
	case "":
		return fmt.Errorf("variant is required")
	default:
		return fmt.Errorf("unknown variant %q", c.Variant)
	}
	if c.Listen.Port == 0 {
		return fmt.Errorf("listen port is required")
	}
	if c.Backend.Host == "" || c.Backend.Port == 0 {
		return fmt.Errorf("backend host and port are required")
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
