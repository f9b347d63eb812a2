// Package config loads the daemon's own configuration and its zone list:
// viper for the main YAML config (plus environment overrides), a separate
// yaml.v3 pass for the zones file (since viper's own map-key unmarshalling
// doesn't preserve zone names as keys cleanly), and go-playground/validator
// for required-field enforcement. The loaded result is handed around
// explicitly as a value rather than read back out of a package-level
// global, so callers can be constructed and tested without touching
// process-wide state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/korsgren/zonecore/zone"
)

// ZoneConf is one zone's entry in the zones file.
type ZoneConf struct {
	Type          string   `yaml:"type" validate:"required,oneof=primary secondary"`
	Master        string   `yaml:"master"`
	Zonefile      string   `yaml:"zonefile" validate:"required"`
	TSIGKeyName   string   `yaml:"tsig_key"`
	BuildDiffs    bool     `yaml:"build_diffs"`
	DNSSECEnabled bool     `yaml:"dnssec_enabled"`
	DBSyncTimeout int      `yaml:"dbsync_timeout"` // seconds
	SerialPolicy  string   `yaml:"serial_policy" validate:"omitempty,oneof=increment unixtime"`
	NotifyRetries int      `yaml:"notify_retries"`
	ACLs          []string `yaml:"acls"`
	Downstreams   []string `yaml:"downstreams"`
}

// ToHandleConfig converts the on-disk shape into the runtime HandleConfig
// the zone package consumes.
func (zc ZoneConf) ToHandleConfig() (zone.HandleConfig, error) {
	policy := zone.SerialIncrement
	if zc.SerialPolicy != "" {
		p, err := zone.ParseSerialPolicy(zc.SerialPolicy)
		if err != nil {
			return zone.HandleConfig{}, err
		}
		policy = p
	}
	timeout := zc.DBSyncTimeout
	if timeout <= 0 {
		timeout = 60
	}
	return zone.HandleConfig{
		MasterAddr:    zc.Master,
		TSIGKeyName:   zc.TSIGKeyName,
		BuildDiffs:    zc.BuildDiffs,
		DNSSECEnabled: zc.DNSSECEnabled,
		DBSyncTimeout: time.Duration(timeout) * time.Second,
		SerialPolicy:  policy,
		NotifyRetries: zc.NotifyRetries,
		ACLs:          zc.ACLs,
		Downstreams:   zc.Downstreams,
	}, nil
}

// zonesFile is the on-disk shape of the zones YAML file: a flat map from
// zone name to ZoneConf, wrapped in its own struct because viper can't
// unmarshal a top-level map keyed by zone name reliably.
type zonesFile struct {
	Zones map[string]ZoneConf `yaml:"zones"`
}

// Config is the daemon's own configuration, bound from YAML + environment
// by viper.
type Config struct {
	Log struct {
		File string `mapstructure:"file"`
	} `mapstructure:"log"`

	DB struct {
		File string `mapstructure:"file"`
	} `mapstructure:"db" validate:"required"`

	Service struct {
		MaxConnIdleMs int  `mapstructure:"max_conn_idle_ms"`
		Resign        bool `mapstructure:"resign"`
	} `mapstructure:"service"`

	API struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"api"`

	JournalDir string `mapstructure:"journal_dir" validate:"required"`
	ZonesFile  string `mapstructure:"zones_file" validate:"required"`
}

var validate = validator.New()

// Load reads cfgFile via viper (plus ZONECORE_-prefixed environment
// overrides) and validates the result.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(cfgFile)
	v.SetEnvPrefix("zonecore")
	v.AutomaticEnv()

	v.SetDefault("service.max_conn_idle_ms", 30000)
	v.SetDefault("journal_dir", "/var/lib/zonecore/journals")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

// LoadZones reads and validates the zones file referenced by cfg.ZonesFile.
func LoadZones(path string) (map[string]ZoneConf, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading zones file %s: %w", path, err)
	}

	var zf zonesFile
	if err := yaml.Unmarshal(raw, &zf); err != nil {
		return nil, fmt.Errorf("config: parsing zones file %s: %w", path, err)
	}

	for name, zc := range zf.Zones {
		if err := validate.Struct(zc); err != nil {
			return nil, fmt.Errorf("config: zone %q: %w", name, err)
		}
	}
	return zf.Zones, nil
}
