// Package config handles loading and parsing of BleepDrive configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for BleepDrive.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Drive         DriveConfig         `yaml:"drive"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Writable enables PUT and DELETE on /files.
	Writable bool `yaml:"writable"`
	// ShutdownTimeout is the graceful shutdown budget in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig selects the slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig toggles the /metrics and /health endpoints.
type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	HealthCheck bool `yaml:"health_check"`
}

// DriveConfig lists the configured disks and names the default one.
type DriveConfig struct {
	Default string                `yaml:"default"`
	Disks   map[string]DiskConfig `yaml:"disks"`
}

// DiskConfig configures a single disk. Which fields apply depends on Driver.
type DiskConfig struct {
	// Driver selects the adapter: s3, minio, gcs, azure, webdav, local,
	// memory or sqlite.
	Driver string `yaml:"driver"`

	// Key and Secret are static credentials (S3/minio access keys, GCS
	// service account email and PEM key, Azure account name and key).
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`

	// Bucket is the bucket or container the disk is bound to.
	Bucket string `yaml:"bucket"`
	// Endpoint overrides the service endpoint (S3-compatible hosts, minio).
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	// Internal makes the SDK talk to Endpoint while public URLs keep the
	// regional host.
	Internal bool `yaml:"internal"`
	// Secure selects https. Nil means true.
	Secure    *bool `yaml:"secure"`
	PathStyle bool  `yaml:"path_style"`

	// Root is the base directory for local and webdav disks.
	Root string `yaml:"root"`
	// BaseURL prefixes public URLs of local, memory and sqlite disks.
	BaseURL string `yaml:"base_url"`
	// SignKey enables HMAC signed URLs on local, memory and sqlite disks.
	SignKey string `yaml:"sign_key"`
	// Public lets the gateway serve the disk without a signature. A disk
	// that is neither signed nor public is not reachable through /files.
	Public bool `yaml:"public"`

	AccountURL       string `yaml:"account_url"`
	ConnectionString string `yaml:"connection_string"`
	Project          string `yaml:"project"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// URL is the WebDAV server URL.
	URL string `yaml:"url"`
	// DSN is the SQLite database path.
	DSN string `yaml:"dsn"`
}

// IsSecure reports whether the disk uses https.
func (d DiskConfig) IsSecure() bool {
	return d.Secure == nil || *d.Secure
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config with defaults applied. If the primary path fails, it
// falls back to bleepdrive.example.yaml in the same or parent directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "bleepdrive.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "bleepdrive.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Parse(data)
}

// Parse decodes YAML configuration bytes, applies defaults and validates
// the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	return c.Drive.Validate()
}

// Validate checks that every disk names a driver and that the default disk
// is configured.
func (d DriveConfig) Validate() error {
	if len(d.Disks) == 0 {
		return errors.New("drive: no disks configured")
	}
	for _, name := range d.Names() {
		if d.Disks[name].Driver == "" {
			return fmt.Errorf("drive: disk %q has no driver", name)
		}
	}
	if _, ok := d.Disks[d.Default]; !ok {
		return fmt.Errorf("drive: default disk %q is not configured", d.Default)
	}
	return nil
}

// Names returns the configured disk names in sorted order.
func (d DriveConfig) Names() []string {
	names := make([]string, 0, len(d.Disks))
	for name := range d.Disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9100,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9100
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	// A single disk is the default disk when none is named.
	if cfg.Drive.Default == "" && len(cfg.Drive.Disks) == 1 {
		for name := range cfg.Drive.Disks {
			cfg.Drive.Default = name
		}
	}
	for name, disk := range cfg.Drive.Disks {
		switch disk.Driver {
		case "local", "memory", "sqlite":
			if disk.BaseURL == "" {
				disk.BaseURL = "/files/" + name
			}
		}
		switch disk.Driver {
		case "local":
			if disk.Root == "" {
				disk.Root = filepath.Join("data", "files", name)
			}
		case "sqlite":
			if disk.DSN == "" {
				disk.DSN = filepath.Join("data", name+".db")
			}
		case "s3":
			if disk.Region == "" {
				disk.Region = "us-east-1"
			}
		}
		cfg.Drive.Disks[name] = disk
	}
}
