package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAsset       = "USD"
	DefaultServiceName = "escrowctl"

	// BackendLevelDB keeps state in a LevelDB directory under DataDir.
	BackendLevelDB = "leveldb"
	// BackendBolt keeps state in a single bbolt file under DataDir.
	BackendBolt = "bolt"
)

type Config struct {
	DataDir          string       `toml:"DataDir"`
	Backend          string       `toml:"Backend"`
	Asset            string       `toml:"Asset"`
	Owner            string       `toml:"Owner"`
	Marketplace      string       `toml:"Marketplace"`
	DisputeAuthority string       `toml:"DisputeAuthority"`
	Vault            string       `toml:"Vault"`
	ProtectionFee    string       `toml:"ProtectionFee"`
	CommissionFee    string       `toml:"CommissionFee"`
	Paused           bool         `toml:"Paused"`
	Allocations      []Allocation `toml:"Allocations"`

	Log       LogConfig       `toml:"Log"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
	Metrics   MetricsConfig   `toml:"Metrics"`
	Indexer   IndexerConfig   `toml:"Indexer"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}

	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "escrow-data")
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	if strings.TrimSpace(cfg.Asset) == "" {
		cfg.Asset = DefaultAsset
	}
	cfg.Asset = strings.ToUpper(strings.TrimSpace(cfg.Asset))
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if strings.TrimSpace(cfg.Metrics.Job) == "" {
		cfg.Metrics.Job = DefaultServiceName
	}
	if strings.TrimSpace(cfg.Indexer.DSN) == "" {
		cfg.Indexer.DSN = filepath.Join(filepath.Dir(path), "escrow-index.db")
	}
	if cfg.Allocations == nil {
		cfg.Allocations = []Allocation{}
	}
}

// createDefault creates and saves a default configuration file. Role
// addresses are left for the operator to fill in before running init.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(filepath.Dir(path), "escrow-data"),
		Backend:       BackendLevelDB,
		Asset:         DefaultAsset,
		ProtectionFee: "10",
		CommissionFee: "50",
		Allocations:   []Allocation{},
		Log:           LogConfig{Level: "info", MaxSizeMB: 100},
		Metrics:       MetricsConfig{Job: DefaultServiceName},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
