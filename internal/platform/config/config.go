// Package config loads the onepassd YAML configuration. A missing or
// malformed file is fatal at startup; there are no defaults for URLs.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	Port           uint16 `yaml:"port"`
	RequestTimeout int64  `yaml:"request_timeout"`
}

type URLs struct {
	GetPay         string `yaml:"get_pay"`
	InitFunds      string `yaml:"init_funds"`
	BatchPayFinish string `yaml:"batch_pay_finish"`
}

type Config struct {
	Server Server `yaml:"server"`
	URLs   URLs   `yaml:"urls"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0, got %d", c.Server.RequestTimeout)
	}
	if c.URLs.GetPay == "" {
		return fmt.Errorf("urls.get_pay is required")
	}
	if c.URLs.InitFunds == "" {
		return fmt.Errorf("urls.init_funds is required")
	}
	if c.URLs.BatchPayFinish == "" {
		return fmt.Errorf("urls.batch_pay_finish is required")
	}
	return nil
}

// ListenAddr joins server.addr and server.port into a bind address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Addr, strconv.Itoa(int(c.Server.Port)))
}

// RequestTimeout is the per-probe local timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Millisecond
}
