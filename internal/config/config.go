// Package config loads the things-shell runtime's startup configuration:
// a hard-coded defaults document matching spec.md §6's "Configuration
// defaults" table, optionally overridden by a YAML file, mirroring the
// teacher's own gopkg.in/yaml.v3-based config loading.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// IMDBConfig is the IMDB instance's block-size setting.
type IMDBConfig struct {
	BlockSize int `yaml:"block_size"`
}

// UDPCTLConfig mirrors §6's UDPCTL defaults.
type UDPCTLConfig struct {
	Port          int           `yaml:"port"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	AuthTimeout   time.Duration `yaml:"auth_timeout"`
	RecycleTimeout time.Duration `yaml:"recycle_timeout"`
	MaxClients    int           `yaml:"max_clients"`
}

// NTPConfig mirrors §6's NTP defaults.
type NTPConfig struct {
	Servers        []string      `yaml:"servers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	StepThreshold  time.Duration `yaml:"step_threshold"`
	RequestsPerPeer int          `yaml:"requests_per_peer"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SyslogConfig mirrors §6's syslog defaults.
type SyslogConfig struct {
	Severity      string `yaml:"severity"`
	LastErrorSize int    `yaml:"last_error_size"`
}

// DHTConfig mirrors §6's DHT sensor defaults.
type DHTConfig struct {
	GPIO        int           `yaml:"gpio"`
	PollInterval time.Duration `yaml:"poll_interval"`
	EMAAlpha    float64       `yaml:"ema_alpha"`
	FailRetries int           `yaml:"fail_retries"`
}

// Config is the full configuration document.
type Config struct {
	IMDB   IMDBConfig   `yaml:"imdb"`
	UDPCTL UDPCTLConfig `yaml:"udpctl"`
	NTP    NTPConfig    `yaml:"ntp"`
	Syslog SyslogConfig `yaml:"syslog"`
	DHT    DHTConfig    `yaml:"dht"`
}

// Defaults returns the exact table in spec.md §6.
func Defaults() Config {
	return Config{
		IMDB: IMDBConfig{BlockSize: 1024},
		UDPCTL: UDPCTLConfig{
			Port:           3901,
			IdleTimeout:    60 * time.Second,
			AuthTimeout:    10 * time.Second,
			RecycleTimeout: 60 * time.Second,
			MaxClients:     4,
		},
		NTP: NTPConfig{
			Servers:         []string{"0.pool.ntp.org", "1.pool.ntp.org"},
			PollInterval:    20 * time.Minute,
			StepThreshold:   50 * time.Millisecond,
			RequestsPerPeer: 5,
			RequestTimeout:  10 * time.Second,
		},
		Syslog: SyslogConfig{Severity: "INFO", LastErrorSize: 84},
		DHT: DHTConfig{GPIO: 4, PollInterval: 20 * time.Second, EMAAlpha: 0.9, FailRetries: 3},
	}
}

// Load reads path as a YAML document and overlays it onto Defaults().
// A missing file is not an error; Load then just returns the defaults,
// matching cmd/tshd's "load /etc/tshd/config.yaml if present" behavior.
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
