// Package infra holds the process-level plumbing: configuration
// loading, logger setup, and filesystem paths.
package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketsim/pkg/quant"
)

// SymbolConfig declares one traded symbol and its fundamental series.
type SymbolConfig struct {
	Name        string  `yaml:"name"`
	Fundamental string  `yaml:"fundamental"` // CSV of (rfc3339, dollar price)
	SigmaN      float64 `yaml:"sigma_n"`     // observation noise variance
}

// ReplayConfig declares one historical order stream to re-submit.
type ReplayConfig struct {
	Symbol  string `yaml:"symbol"`
	AgentID int    `yaml:"agent_id"`
	File    string `yaml:"file"`
	Cache   string `yaml:"cache"` // sqlite cache path ("auto" = data dir), empty disables caching
}

// Config carries everything a simulation run needs.
type Config struct {
	Sim struct {
		Name  string `yaml:"name"`
		Start string `yaml:"start"` // RFC3339
		End   string `yaml:"end"`   // RFC3339
		Seed  int64  `yaml:"seed"`
	} `yaml:"sim"`

	Symbols []SymbolConfig `yaml:"symbols"`
	Replays []ReplayConfig `yaml:"replays"`

	Storage struct {
		Path string `yaml:"path"` // run log sqlite ("auto" = data dir); empty disables recording
	} `yaml:"storage"`

	Stream struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"stream"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and validates the YAML config at path. The
// MARKETSIM_STORAGE environment variable, when set, overrides the
// storage path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if p := os.Getenv("MARKETSIM_STORAGE"); p != "" {
		cfg.Storage.Path = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Sim.Name == "" {
		return fmt.Errorf("sim name is required")
	}

	start, err := quant.ParseTimeStamp(c.Sim.Start)
	if err != nil {
		return fmt.Errorf("invalid sim start: %w", err)
	}
	end, err := quant.ParseTimeStamp(c.Sim.End)
	if err != nil {
		return fmt.Errorf("invalid sim end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("sim end %s must be after start %s", c.Sim.End, c.Sim.Start)
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s.Name == "" {
			return fmt.Errorf("symbol name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate symbol %s", s.Name)
		}
		seen[s.Name] = true
		if s.SigmaN < 0 {
			return fmt.Errorf("symbol %s: sigma_n must be non-negative", s.Name)
		}
	}

	for _, r := range c.Replays {
		if !seen[r.Symbol] {
			return fmt.Errorf("replay references unknown symbol %s", r.Symbol)
		}
		if r.File == "" {
			return fmt.Errorf("replay for %s: file is required", r.Symbol)
		}
	}

	if c.Stream.Enabled && c.Stream.Addr == "" {
		return fmt.Errorf("stream addr is required when streaming is enabled")
	}

	return nil
}

// StartEnd returns the parsed simulation window. Call after Validate.
func (c *Config) StartEnd() (quant.TimeStamp, quant.TimeStamp) {
	start, _ := quant.ParseTimeStamp(c.Sim.Start)
	end, _ := quant.ParseTimeStamp(c.Sim.End)
	return start, end
}
