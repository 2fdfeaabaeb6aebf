// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads clanwar settings from a YAML file, command-line flags
// and built-in defaults, in increasing order of precedence for flags over the
// file and of the file over defaults.
package config

import (
	"net/url"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	goyaml "gopkg.in/yaml.v3"

	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/war"
)

// Config is the full clanwar configuration.
type Config struct {
	LogFormat   string `koanf:"log_format" jsonschema:"enum=json,enum=text"`
	LogLevel    string `koanf:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	MetricsAddr string `koanf:"metrics_addr" jsonschema:"description=Listen address for metrics and health checks. Empty disables the server."`
	DatabaseURL string `koanf:"database_url" jsonschema:"description=PostgreSQL connection string"`

	Territory Territory `koanf:"territory"`
	War       War       `koanf:"war"`
	Loop      Loop      `koanf:"loop"`
}

// Territory holds the territory.* keys.
type Territory struct {
	MaxPerClan          int           `koanf:"max_per_clan" jsonschema:"minimum=1"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
	MaintenanceBaseCost decimal.Decimal `koanf:"maintenance_base_cost"`
	MaintenanceScale    decimal.Decimal `koanf:"maintenance_scale"`
}

// War holds the war.* keys.
type War struct {
	DeclarationCost       decimal.Decimal `koanf:"declaration_cost"`
	Exclusivity           time.Duration `koanf:"exclusivity"`
	SiegeDuration         time.Duration `koanf:"siege_duration"`
	SiegeCost             decimal.Decimal `koanf:"siege_cost"`
	DefenderMoralBonus    decimal.Decimal `koanf:"defender_moral_bonus"`
	DefenderBonusDuration time.Duration `koanf:"defender_bonus_duration"`
	PillageDuration       time.Duration `koanf:"pillage_duration"`
	TruceDuration         time.Duration `koanf:"truce_duration"`
}

// Loop holds the loop.* keys.
type Loop struct {
	QueueSize int `koanf:"queue_size" jsonschema:"minimum=1"`
	Workers   int `koanf:"workers" jsonschema:"minimum=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	ts := territory.DefaultSettings()
	ws := war.DefaultSettings()
	return Config{
		LogFormat:   "json",
		LogLevel:    "info",
		MetricsAddr: ":9100",
		Territory: Territory{
			MaxPerClan:          ts.MaxPerClan,
			MaintenanceInterval: ts.MaintenanceInterval,
			MaintenanceBaseCost: ts.MaintenanceBaseCost,
			MaintenanceScale:    ts.MaintenanceScale,
		},
		War: War{
			DeclarationCost:       ws.DeclarationCost,
			Exclusivity:           ws.Exclusivity,
			SiegeDuration:         ws.SiegeDuration,
			SiegeCost:             ws.SiegeCost,
			DefenderMoralBonus:    ws.DefenderMoralBonus,
			DefenderBonusDuration: ws.DefenderBonusDuration,
			PillageDuration:       ws.PillageDuration,
			TruceDuration:         ws.TruceDuration,
		},
		Loop: Loop{
			QueueSize: loop.DefaultQueueSize,
			Workers:   loop.DefaultWorkers,
		},
	}
}

// RegisterFlags adds the flags that may override file settings. Their
// defaults match Default so an unset flag never masks the file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log_format", d.LogFormat, "log format (json|text)")
	fs.String("log_level", d.LogLevel, "log level (debug|info|warn|error)")
	fs.String("metrics_addr", d.MetricsAddr, "address for the metrics and health server")
	fs.String("database_url", "", "PostgreSQL connection string (default $DATABASE_URL)")
}

// Load reads path (if non-empty), applies flags (if non-nil), falls back to
// DATABASE_URL for the database and validates the result. The file is
// checked against Schema first so misspelled keys are not silently ignored.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return Config{}, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf(&cfg)); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engines cannot run with.
func (c Config) Validate() error {
	invalid := func(key string, value any, reason string) error {
		return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf("%s: %s", key, reason)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return invalid("log_format", c.LogFormat, "must be json or text")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log_level", c.LogLevel, "must be debug, info, warn or error")
	}

	t := c.Territory
	if t.MaxPerClan <= 0 {
		return invalid("territory.max_per_clan", t.MaxPerClan, "must be positive")
	}
	if t.MaintenanceInterval <= 0 {
		return invalid("territory.maintenance_interval", t.MaintenanceInterval, "must be positive")
	}
	if t.MaintenanceBaseCost.IsNegative() {
		return invalid("territory.maintenance_base_cost", t.MaintenanceBaseCost.String(), "must not be negative")
	}
	if t.MaintenanceScale.LessThan(decimal.NewFromInt(1)) {
		return invalid("territory.maintenance_scale", t.MaintenanceScale.String(), "must be at least 1")
	}

	w := c.War
	for key, v := range map[string]decimal.Decimal{
		"war.declaration_cost":     w.DeclarationCost,
		"war.siege_cost":           w.SiegeCost,
		"war.defender_moral_bonus": w.DefenderMoralBonus,
	} {
		if v.IsNegative() {
			return invalid(key, v.String(), "must not be negative")
		}
	}
	for key, v := range map[string]time.Duration{
		"war.exclusivity":             w.Exclusivity,
		"war.siege_duration":          w.SiegeDuration,
		"war.defender_bonus_duration": w.DefenderBonusDuration,
		"war.pillage_duration":        w.PillageDuration,
		"war.truce_duration":          w.TruceDuration,
	} {
		if v <= 0 {
			return invalid(key, v, "must be positive")
		}
	}

	if c.Loop.QueueSize <= 0 {
		return invalid("loop.queue_size", c.Loop.QueueSize, "must be positive")
	}
	if c.Loop.Workers <= 0 {
		return invalid("loop.workers", c.Loop.Workers, "must be positive")
	}
	return nil
}

// TerritorySettings converts the territory.* keys.
func (c Config) TerritorySettings() territory.Settings {
	return territory.Settings{
		MaxPerClan:          c.Territory.MaxPerClan,
		MaintenanceInterval: c.Territory.MaintenanceInterval,
		MaintenanceBaseCost: c.Territory.MaintenanceBaseCost,
		MaintenanceScale:    c.Territory.MaintenanceScale,
	}
}

// WarSettings converts the war.* keys.
func (c Config) WarSettings() war.Settings {
	return war.Settings{
		DeclarationCost:       c.War.DeclarationCost,
		Exclusivity:           c.War.Exclusivity,
		SiegeDuration:         c.War.SiegeDuration,
		SiegeCost:             c.War.SiegeCost,
		DefenderMoralBonus:    c.War.DefenderMoralBonus,
		DefenderBonusDuration: c.War.DefenderBonusDuration,
		PillageDuration:       c.War.PillageDuration,
		TruceDuration:         c.War.TruceDuration,
	}
}

// LoopConfig converts the loop.* keys.
func (c Config) LoopConfig() loop.Config {
	return loop.Config{QueueSize: c.Loop.QueueSize, Workers: c.Loop.Workers}
}

// YAML renders c in config file form. Durations use time.Duration syntax and
// the database password is masked.
func (c Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"log_format":   c.LogFormat,
		"log_level":    c.LogLevel,
		"metrics_addr": c.MetricsAddr,
		"database_url": redactURL(c.DatabaseURL),
		"territory": map[string]any{
			"max_per_clan":          c.Territory.MaxPerClan,
			"maintenance_interval":  c.Territory.MaintenanceInterval.String(),
			"maintenance_base_cost": decimalNode(c.Territory.MaintenanceBaseCost),
			"maintenance_scale":     decimalNode(c.Territory.MaintenanceScale),
		},
		"war": map[string]any{
			"declaration_cost":        decimalNode(c.War.DeclarationCost),
			"exclusivity":             c.War.Exclusivity.String(),
			"siege_duration":          c.War.SiegeDuration.String(),
			"siege_cost":              decimalNode(c.War.SiegeCost),
			"defender_moral_bonus":    decimalNode(c.War.DefenderMoralBonus),
			"defender_bonus_duration": c.War.DefenderBonusDuration.String(),
			"pillage_duration":        c.War.PillageDuration.String(),
			"truce_duration":          c.War.TruceDuration.String(),
		},
		"loop": map[string]any{
			"queue_size": c.Loop.QueueSize,
			"workers":    c.Loop.Workers,
		},
	}
	out, err := goyaml.Marshal(doc)
	if err != nil {
		return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
	}
	return out, nil
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	return u.Redacted()
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// unmarshalConf decodes into cfg with koanf's usual hooks plus one that reads
// YAML numbers into decimals from their literal text.
func unmarshalConf(cfg *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				decimalHook,
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}
}

func decimalHook(_, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromString(strconv.FormatUint(v, 10))
	case float64:
		return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return data, nil
}

// decimalNode renders d as a plain YAML number.
func decimalNode(d decimal.Decimal) *goyaml.Node {
	return &goyaml.Node{Kind: goyaml.ScalarNode, Value: d.String()}
}
