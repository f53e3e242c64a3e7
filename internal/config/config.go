// Package config loads the optional YAML configuration file that
// supplies the listen address and weighted source address list as an
// alternative to passing them as CLI arguments (SPEC_FULL.md §10.3).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dispatch-proxy/internal/addrspec"
)

// SourceEntry is one weighted source address as written in YAML: either
// "interface" or "ip" is set, never both.
type SourceEntry struct {
	Interface string `yaml:"interface"`
	IP        string `yaml:"ip"`
	Weight    int    `yaml:"weight"`
}

// Config is the top-level YAML configuration document.
type Config struct {
	Listen  string        `yaml:"listen"`
	Sources []SourceEntry `yaml:"sources"`
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Listen == "" {
		return nil, fmt.Errorf("config: 'listen' is required (e.g. 127.0.0.1:1080)")
	}

	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("config: at least one source entry is required")
	}

	seen := make(map[string]struct{}, len(cfg.Sources))

	for i, s := range cfg.Sources {
		if s.Interface == "" && s.IP == "" {
			return nil, fmt.Errorf("config: sources[%d]: one of 'interface' or 'ip' is required", i)
		}
		if s.Interface != "" && s.IP != "" {
			return nil, fmt.Errorf("config: sources[%d]: only one of 'interface' or 'ip' may be set", i)
		}
		if s.Weight < 0 {
			return nil, fmt.Errorf("config: sources[%d]: weight must be positive", i)
		}
		if s.Weight == 0 {
			cfg.Sources[i].Weight = 1
		}

		key := s.Interface + s.IP
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("config: sources[%d]: duplicate source %q", i, key)
		}
		seen[key] = struct{}{}
	}

	return &cfg, nil
}

// WeightedSourceAddresses converts the validated config into the
// addrspec types the dispatcher consumes.
func (c *Config) WeightedSourceAddresses() ([]addrspec.WeightedSourceAddress, error) {
	out := make([]addrspec.WeightedSourceAddress, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IP != "" {
			token := fmt.Sprintf("%s/%d", s.IP, s.Weight)
			w, err := addrspec.Parse(token)
			if err != nil {
				return nil, err
			}
			out = append(out, w)
			continue
		}
		token := fmt.Sprintf("%s/%d", s.Interface, s.Weight)
		w, err := addrspec.Parse(token)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
