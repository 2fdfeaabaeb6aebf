// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/war"
	"github.com/holomush/clanwar/pkg/errutil"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clanwar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefault_MatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	ts := cfg.TerritorySettings()
	want := territory.DefaultSettings()
	assert.Equal(t, want.MaxPerClan, ts.MaxPerClan)
	assert.Equal(t, want.MaintenanceInterval, ts.MaintenanceInterval)
	assert.True(t, want.MaintenanceBaseCost.Equal(ts.MaintenanceBaseCost))
	assert.True(t, want.MaintenanceScale.Equal(ts.MaintenanceScale))

	ws := cfg.WarSettings()
	wantWar := war.DefaultSettings()
	assert.True(t, wantWar.DeclarationCost.Equal(ws.DeclarationCost))
	assert.Equal(t, wantWar.Exclusivity, ws.Exclusivity)
	assert.Equal(t, wantWar.SiegeDuration, ws.SiegeDuration)
	assert.True(t, ws.SiegeCost.IsZero())
}

func TestLoad_NoSources(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/clanwar")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/clanwar", cfg.DatabaseURL)
	assert.Equal(t, 50, cfg.Territory.MaxPerClan)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
log_format: text
database_url: postgres://file/clanwar
territory:
  max_per_clan: 10
  maintenance_interval: 6h
  maintenance_scale: 2
war:
  declaration_cost: 250
  siege_duration: 45m
loop:
  workers: 4
`)

	cfg, err := Load(path, newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "postgres://file/clanwar", cfg.DatabaseURL)
	assert.Equal(t, 10, cfg.Territory.MaxPerClan)
	assert.Equal(t, 6*time.Hour, cfg.Territory.MaintenanceInterval)
	assert.True(t, cfg.Territory.MaintenanceScale.Equal(decimal.NewFromInt(2)))
	assert.True(t, cfg.Territory.MaintenanceBaseCost.Equal(decimal.NewFromInt(100)), "untouched keys keep defaults")
	assert.True(t, cfg.War.DeclarationCost.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 45*time.Minute, cfg.War.SiegeDuration)
	assert.Equal(t, 48*time.Hour, cfg.War.Exclusivity)
	assert.Equal(t, 4, cfg.Loop.Workers)
	assert.Equal(t, 1024, cfg.Loop.QueueSize)
}

func TestLoad_MoneyIsExact(t *testing.T) {
	path := writeFile(t, `
territory:
  maintenance_base_cost: 0.1
  maintenance_scale: "1.25"
war:
  declaration_cost: "1000.10"
  defender_moral_bonus: 0.3
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.1", cfg.Territory.MaintenanceBaseCost.String())
	assert.Equal(t, "1.25", cfg.Territory.MaintenanceScale.String())
	assert.Equal(t, "1000.1", cfg.War.DeclarationCost.String())
	assert.Equal(t, "0.3", cfg.War.DefenderMoralBonus.String())

	ts := cfg.TerritorySettings()
	assert.True(t, territory.MaintenanceCost(ts, 3).Equal(decimal.RequireFromString("0.15625")))
}

func TestLoad_ZeroBaseCostMeansFreeUpkeep(t *testing.T) {
	cfg, err := Load(writeFile(t, "territory:\n  maintenance_base_cost: 0\n"), nil)
	require.NoError(t, err)

	ts := cfg.TerritorySettings()
	assert.True(t, ts.MaintenanceBaseCost.IsZero())
	assert.True(t, territory.MaintenanceCost(ts, 4).IsZero())
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "log_format: text\nmetrics_addr: :9000\n")

	cfg, err := Load(path, newFlags(t, "--log_format=json"))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9000", cfg.MetricsAddr, "unset flag must not mask the file")
}

func TestLoad_EnvFallbackOnlyWhenUnset(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/clanwar")

	cfg, err := Load("", newFlags(t, "--database_url=postgres://flag/clanwar"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/clanwar", cfg.DatabaseURL)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "territory: [unclosed"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeFile(t, "territory:\n  max_per_clam: 5\n"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := Load(writeFile(t, "territory:\n  maintenance_interval: soon\n"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
	})

	t.Run("below schema minimum", func(t *testing.T) {
		_, err := Load(writeFile(t, "loop:\n  workers: 0\n"), nil)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
	})

	t.Run("fails validation", func(t *testing.T) {
		_, err := Load("", newFlags(t, "--log_level=loud"))
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		errutil.AssertErrorContext(t, err, "key", "log_level")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		key    string
	}{
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"max per clan", func(c *Config) { c.Territory.MaxPerClan = 0 }, "territory.max_per_clan"},
		{"interval", func(c *Config) { c.Territory.MaintenanceInterval = 0 }, "territory.maintenance_interval"},
		{"base cost", func(c *Config) { c.Territory.MaintenanceBaseCost = decimal.NewFromInt(-1) }, "territory.maintenance_base_cost"},
		{"scale", func(c *Config) { c.Territory.MaintenanceScale = decimal.RequireFromString("0.5") }, "territory.maintenance_scale"},
		{"declaration cost", func(c *Config) { c.War.DeclarationCost = decimal.NewFromInt(-5) }, "war.declaration_cost"},
		{"siege cost as string", func(c *Config) { c.War.SiegeCost = decimal.RequireFromString("-0.01") }, "war.siege_cost"},
		{"siege duration", func(c *Config) { c.War.SiegeDuration = 0 }, "war.siege_duration"},
		{"truce duration", func(c *Config) { c.War.TruceDuration = -time.Hour }, "war.truce_duration"},
		{"queue size", func(c *Config) { c.Loop.QueueSize = 0 }, "loop.queue_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestLoopConfig(t *testing.T) {
	cfg := Default()
	cfg.Loop.Workers = 3
	assert.Equal(t, 3, cfg.LoopConfig().Workers)
}
