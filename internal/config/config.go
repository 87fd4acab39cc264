package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level settled.yaml configuration.
type Config struct {
	Ledger   LedgerConfig    `yaml:"ledger"`
	Import   ImportConfig    `yaml:"import"`
	Server   ServerConfig    `yaml:"server"`
	Sections []SectionConfig `yaml:"sections"`
}

// LedgerConfig defines the monetary and reconciliation behaviour of
// the ledger.
type LedgerConfig struct {
	Currency string `yaml:"currency"`
	Timezone string `yaml:"timezone"`

	// RefundCategory names the debt category used for overpayment
	// refunds. Empty disables refund generation; overpayments then
	// surface as warnings instead.
	RefundCategory string `yaml:"refund_category,omitempty"`

	// TrackingPrefix is the leading digit prepended to structured
	// reference tracking numbers.
	TrackingPrefix int `yaml:"tracking_prefix"`

	ExactMatchPriority bool `yaml:"exact_match_priority"`
	ExactMatchOnly     bool `yaml:"exact_match_only,omitempty"`
}

// ImportConfig controls bank statement ingestion.
type ImportConfig struct {
	// CSVFormat selects the registered statement parser: "fortis",
	// "kbc" or "generic".
	CSVFormat string `yaml:"csv_format"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url,omitempty"`

	// MaxCSVBytes bounds uploaded statement size. Zero means the
	// built-in default.
	MaxCSVBytes int64 `yaml:"max_csv_bytes,omitempty"`
}

// SectionConfig configures one pipeline section.
type SectionConfig struct {
	// Resolver is "transfer" (tracking numbers in free-form transfer
	// references) or "party" (counterparty names and email addresses).
	Resolver string `yaml:"resolver"`

	DuplicateProtection bool `yaml:"duplicate_protection"`
}

// Load reads a settled.yaml file from disk and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints that yaml decoding cannot.
func (c *Config) Validate() error {
	if c.Ledger.Currency == "" {
		return fmt.Errorf("ledger.currency is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("ledger.timezone: %w", err)
	}
	if c.Ledger.TrackingPrefix < 0 || c.Ledger.TrackingPrefix > 9 {
		return fmt.Errorf("ledger.tracking_prefix must be a single digit, got %d", c.Ledger.TrackingPrefix)
	}
	if len(c.Sections) == 0 {
		return fmt.Errorf("at least one pipeline section is required")
	}
	for i, s := range c.Sections {
		switch s.Resolver {
		case "transfer", "party":
		default:
			return fmt.Errorf("sections[%d].resolver must be \"transfer\" or \"party\", got %q", i, s.Resolver)
		}
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Ledger.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Ledger.Timezone)
}

// Default returns a Config with sensible defaults for a new ledger.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Currency:           "EUR",
			Timezone:           "Europe/Brussels",
			TrackingPrefix:     1,
			ExactMatchPriority: true,
		},
		Import: ImportConfig{
			CSVFormat: "kbc",
		},
		Server: ServerConfig{
			ListenAddr: ":8480",
		},
		Sections: []SectionConfig{
			{Resolver: "transfer", DuplicateProtection: true},
		},
	}
}
