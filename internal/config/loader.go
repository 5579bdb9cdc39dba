package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a repositories configuration from the given YAML
// file path, applying worker/repository defaults after parsing.
func Load(path string) (*RepositoriesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg RepositoriesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a repositories config in standard locations and
// loads the first one found. Search order: ./repositories.yaml,
// ~/.landingd/config.yaml
func LoadDefault() (*RepositoriesConfig, error) {
	candidates := []string{"repositories.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".landingd", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no repositories config found (searched: %v)", candidates)
}

// applyDefaults fills in worker tuning defaults and resolves each
// repository's pull/push paths from its url when left unset.
func applyDefaults(cfg *RepositoriesConfig) {
	if cfg.Worker.ThrottleSeconds == 0 {
		cfg.Worker.ThrottleSeconds = 3
	}
	if cfg.Worker.GraceSeconds == 0 {
		cfg.Worker.GraceSeconds = 300
	}

	for i := range cfg.Repositories {
		r := &cfg.Repositories[i]
		if r.PullPath == "" {
			r.PullPath = r.URL
		}
		if r.PushPath == "" {
			r.PushPath = r.URL
		}
	}
}
