// Package config loads and validates the chessrelay YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// accountNameRe restricts account names to characters that are safe as state
// file names.
var accountNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// StateDir is the directory holding per-account import state.
	// Defaults to ~/.local/share/chessrelay if unset.
	StateDir string `yaml:"state_dir"`

	// Accounts lists the account pairs to sync. At least one is required.
	Accounts []Account `yaml:"accounts"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// Account pairs one Chessnut account with one Lichess account. Immutable
// after load; Name keys all state lookups.
type Account struct {
	// Name uniquely identifies the account and names its state file.
	Name string `yaml:"name"`

	// Chessnut holds the source provider credentials.
	Chessnut ChessnutCredentials `yaml:"chessnut"`

	// Lichess holds the destination provider credential.
	Lichess LichessCredentials `yaml:"lichess"`

	// Interval is how long to wait between sync cycles, measured from the
	// end of the previous cycle. Minimum 1m. Defaults to 1h if unset.
	Interval time.Duration `yaml:"interval"`
}

// ChessnutCredentials are the email/password pair for the Chessnut cloud.
type ChessnutCredentials struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// LichessCredentials holds the Lichess personal API token.
type LichessCredentials struct {
	APIToken string `yaml:"api_token"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "chessrelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/chessrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "chessrelay", "config.yaml"), nil
}

// DefaultStateDir returns the default state directory: ~/.local/share/chessrelay.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "chessrelay"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.StateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return err
		}
		c.StateDir = dir
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts must contain at least one entry")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Name == "" {
			return fmt.Errorf("accounts[%d] has no name", i)
		}
		if !accountNameRe.MatchString(a.Name) {
			return fmt.Errorf("account name %q contains characters unsuitable for a state file name", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate account name %q", a.Name)
		}
		seen[a.Name] = true

		if a.Chessnut.Email == "" {
			return fmt.Errorf("account %q: chessnut.email is required", a.Name)
		}
		if a.Chessnut.Password == "" {
			return fmt.Errorf("account %q: chessnut.password is required", a.Name)
		}
		if a.Lichess.APIToken == "" {
			return fmt.Errorf("account %q: lichess.api_token is required", a.Name)
		}

		if a.Interval == 0 {
			a.Interval = time.Hour
		}
		if a.Interval < time.Minute {
			return fmt.Errorf("account %q: interval %v is too short (minimum 1m)", a.Name, a.Interval)
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
