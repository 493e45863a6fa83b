package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for human-readable
// values like "30s" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config carries all tunables. Defaults are explicit and named so the
// "all tiers absent" path is deterministic in tests rather than hidden
// behind literals.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	// Defaults are the caller-supplied safe rates applied when every
	// rule tier resolves to absence. They are intentionally nonzero.
	Defaults struct {
		OrderPct    float64 `yaml:"order_pct"`
		DeliveryPct float64 `yaml:"delivery_pct"`
	} `yaml:"defaults"`

	RuleStore struct {
		CacheTTL  Duration `yaml:"cache_ttl"`
		CacheSize int      `yaml:"cache_size"`
		Timeout   Duration `yaml:"timeout"`
	} `yaml:"rule_store"`

	Anomaly struct {
		HourlyActionThreshold int `yaml:"hourly_action_threshold"`
		EntityTypeThreshold   int `yaml:"entity_type_threshold"`
		LargeChangeThreshold  int `yaml:"large_change_threshold"`
	} `yaml:"anomaly"`

	Anchor struct {
		Interval  Duration `yaml:"interval"`
		BatchSize int      `yaml:"batch_size"`
	} `yaml:"anchor"`
}

// Default returns the reference configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Database.Path = "commission.db"
	cfg.Defaults.OrderPct = 5
	cfg.Defaults.DeliveryPct = 2
	cfg.RuleStore.CacheTTL = Duration(30 * time.Second)
	cfg.RuleStore.CacheSize = 1024
	cfg.RuleStore.Timeout = Duration(2 * time.Second)
	cfg.Anomaly.HourlyActionThreshold = 50
	cfg.Anomaly.EntityTypeThreshold = 5
	cfg.Anomaly.LargeChangeThreshold = 10
	cfg.Anchor.Interval = Duration(5 * time.Second)
	cfg.Anchor.BatchSize = 100
	return cfg
}

// Load reads the YAML file at path (if non-empty) over the defaults,
// then applies PORT and DB_PATH environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	return cfg, nil
}
