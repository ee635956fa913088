package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// Config holds server configuration. It is read from YAML and then
// overridden by command-line flags.
type Config struct {
	Host        string       `yaml:"host"`
	Port        int          `yaml:"port"`
	Credentials store.Config `yaml:"credentials"`
	TLS         TLSConfig    `yaml:"tls"`
	Log         LogConfig    `yaml:"log"`

	MetricsAddr        string        `yaml:"metrics_addr"`         // HTTP bind address for /metrics (empty = disabled)
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"` // 0 disables the periodic summary
	MaxConnections     int           `yaml:"max_connections"`      // 0 = unlimited
	WriteTimeout       time.Duration `yaml:"write_timeout"`        // per-write deadline for peer sends
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`    // TLS handshake deadline before a session exists
}

// TLSConfig locates the server's certificate material.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"` // generated in DataDir if empty or missing
	KeyFile  string `yaml:"key_file"`
	DataDir  string `yaml:"data_dir"`
}

// LogConfig mirrors logging.Options for the config file.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host: "localhost",
		Port: 1234,
		Credentials: store.Config{
			Backend: store.BackendFile,
			Path:    "users.json",
		},
		TLS:                TLSConfig{DataDir: "."},
		Log:                LogConfig{Level: "info", Format: "text"},
		MetricsAddr:        "localhost:9602",
		MetricsLogInterval: 60 * time.Second,
		WriteTimeout:       5 * time.Second,
		HandshakeTimeout:   10 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MaxConnections < 0 {
		return errors.New("config: max_connections must not be negative")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("config: write_timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("config: handshake_timeout must be positive")
	}
	if err := c.Credentials.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.Validate(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UsersExport is the top-level YAML for the username export.
type UsersExport struct {
	Count int      `yaml:"count"`
	Users []string `yaml:"users"`
}

// ExportUsersYAML lists registered usernames as YAML. Password hashes are
// never exported.
func ExportUsersYAML(st store.CredentialStore) ([]byte, error) {
	names, err := st.Usernames()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(&UsersExport{Count: len(names), Users: names})
}
