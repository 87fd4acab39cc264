package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Ledger.RefundCategory = "refund"
	cfg.Sections = append(cfg.Sections, SectionConfig{Resolver: "party"})

	path := filepath.Join(t.TempDir(), "settled.yaml")
	err := Save(path, cfg)
	require.NoError(t, err)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing currency",
			mutate:  func(c *Config) { c.Ledger.Currency = "" },
			wantErr: "currency",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Ledger.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name:    "tracking prefix out of range",
			mutate:  func(c *Config) { c.Ledger.TrackingPrefix = 12 },
			wantErr: "tracking_prefix",
		},
		{
			name:    "no sections",
			mutate:  func(c *Config) { c.Sections = nil },
			wantErr: "section",
		},
		{
			name:    "unknown resolver",
			mutate:  func(c *Config) { c.Sections[0].Resolver = "psychic" },
			wantErr: "resolver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settled.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  currency: EUR\nsections: []\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "section")
}
