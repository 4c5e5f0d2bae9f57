package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TLS names the PKCS#12 material on disk.
type TLS struct {
	KeyStorePath       string `yaml:"keystore_path"`
	KeyStorePassword   string `yaml:"keystore_password"`
	TrustStorePath     string `yaml:"truststore_path"`
	TrustStorePassword string `yaml:"truststore_password"`
}

// Config is the full hub configuration.
type Config struct {
	Port         int    `yaml:"port"`
	ControllerID string `yaml:"controller_id"`
	DatabasePath string `yaml:"database_path"`
	TLS          TLS    `yaml:"tls"`

	WorkerPoolSize int `yaml:"worker_pool_size"`

	HealthScanInterval Duration `yaml:"health_scan_interval"`
	OfflineThreshold   Duration `yaml:"offline_threshold"`
	DriftThreshold     Duration `yaml:"drift_threshold"`

	CertRotationMin  Duration `yaml:"cert_rotation_min"`
	CertRotationMax  Duration `yaml:"cert_rotation_max"`
	CertPollInterval Duration `yaml:"cert_poll_interval"`

	EventLogPath string `yaml:"event_log_path"`

	Discovery struct {
		Enabled      bool   `yaml:"enabled"`
		InstanceName string `yaml:"instance_name"`
		Interface    string `yaml:"interface"`
	} `yaml:"discovery"`
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{
		Port:               8884,
		ControllerID:       "controller-01",
		DatabasePath:       "hub.db",
		WorkerPoolSize:     10,
		HealthScanInterval: Duration(2 * time.Minute),
		OfflineThreshold:   Duration(3 * time.Minute),
		DriftThreshold:     Duration(5 * time.Minute),
		CertRotationMin:    Duration(7 * 24 * time.Hour),
		CertRotationMax:    Duration(30 * 24 * time.Hour),
		CertPollInterval:   Duration(5 * time.Minute),
	}
	cfg.Discovery.Enabled = true
	cfg.Discovery.InstanceName = "homehub"
	return cfg
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ControllerID == "" {
		return fmt.Errorf("controller_id must not be empty")
	}
	if c.CertRotationMax.Std() < c.CertRotationMin.Std() {
		return fmt.Errorf("cert_rotation_max below cert_rotation_min")
	}
	return nil
}
