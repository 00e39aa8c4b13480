// Package config loads the node's configuration: defaults, then an
// optional YAML file, then CLI flag overrides, merged with mapstructure.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"

	"github.com/wyvernnet/sncore/chain"
)

// Config holds the recognized chain-tuning options plus the ambient
// process-level settings (logging, metrics, storage paths) needed to run
// the core as a service.
type Config struct {
	ForkSize                     uint64 `yaml:"fork_size" mapstructure:"fork_size"`
	AvgGenTime                   int64  `yaml:"avg_gen_time" mapstructure:"avg_gen_time"`
	MSValidity                   int64  `yaml:"ms_validity" mapstructure:"ms_validity"`
	SigValidity                  int64  `yaml:"sig_validity" mapstructure:"sig_validity"`
	DT                           int64  `yaml:"dt" mapstructure:"dt"`
	PoWDelay                     int64  `yaml:"pow_delay" mapstructure:"pow_delay"`
	Participate                  bool   `yaml:"participate" mapstructure:"participate"`
	SwitchOnBranchAheadByMinutes int64  `yaml:"switch_minutes" mapstructure:"switch_minutes"`
	MaxSideBlocks                int    `yaml:"max_side_blocks" mapstructure:"max_side_blocks"`
	MemoryCleanIntervalSeconds   int64  `yaml:"memory_clean_interval" mapstructure:"memory_clean_interval"`

	SelfPubkey string `yaml:"self_pubkey" mapstructure:"self_pubkey"`

	DataDir       string `yaml:"data_dir" mapstructure:"data_dir"`
	ForkStorePath string `yaml:"fork_store_path" mapstructure:"fork_store_path"`
	LogLevel      string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat     string `yaml:"log_format" mapstructure:"log_format"`
	LogFile       string `yaml:"log_file" mapstructure:"log_file"`
	MetricsAddr   string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// Default returns the configuration a freshly-initialized node starts with.
func Default() Config {
	return Config{
		ForkSize:                     100,
		AvgGenTime:                   300,
		MSValidity:                   31536000,
		SigValidity:                  63072000,
		DT:                           86400,
		PoWDelay:                     60,
		Participate:                  false,
		SwitchOnBranchAheadByMinutes: 30,
		MaxSideBlocks:                20000,
		MemoryCleanIntervalSeconds:   3600,
		DataDir:                      "./data",
		ForkStorePath:                "./data/forks",
		LogLevel:                     "info",
		LogFormat:                    "json",
		MetricsAddr:                  ":9100",
	}
}

// Load builds a Config from defaults overlaid with path's YAML contents,
// if path is non-empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(buf, &values); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := mergeInto(&cfg, values); err != nil {
		return cfg, fmt.Errorf("config: apply %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyOverrides merges CLI-sourced values onto cfg, used for flag
// overrides laid on top of the file-loaded configuration.
func ApplyOverrides(cfg *Config, overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	return mergeInto(cfg, overrides)
}

func mergeInto(cfg *Config, values map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(values); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// ChainConfig projects the recognized chain-tuning subset onto chain.Config.
func (c Config) ChainConfig() chain.Config {
	return chain.Config{
		ForkSize:                     c.ForkSize,
		AvgGenTime:                   c.AvgGenTime,
		MSValidity:                   c.MSValidity,
		SigValidity:                  c.SigValidity,
		DT:                           c.DT,
		PoWDelay:                     c.PoWDelay,
		Participate:                  c.Participate,
		SwitchOnBranchAheadByMinutes: c.SwitchOnBranchAheadByMinutes,
		MaxSideBlocks:                c.MaxSideBlocks,
		MemoryCleanIntervalSeconds:   c.MemoryCleanIntervalSeconds,
	}
}
