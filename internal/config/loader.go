package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name searched for in the
// current and home directories.
const DefaultConfigFile = ".finwatch.yaml"

// xdgConfigFile is the file name inside XDGConfigDir.
const xdgConfigFile = "config.yaml"

// Environment variables read by ApplyEnv.
const (
	EnvFirecrawlAPIKey = "FIRECRAWL_API_KEY"
	EnvTavilyAPIKey    = "TAVILY_API_KEY"
	EnvClassifierURL   = "FINWATCH_CLASSIFIER_URL"
	EnvDBDir           = "FINWATCH_DB_DIR"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. configPath, when given
// 2. .finwatch.yaml in the current directory
// 3. .finwatch.yaml in the user's home directory
// 4. config.yaml in the XDG config directory
//
// It returns an empty string when nothing is found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), xdgConfigFile))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// ApplyEnv overrides secrets and locations from the environment. lookup
// is normally os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvFirecrawlAPIKey); ok && v != "" {
		cfg.FirecrawlAPIKey = v
	}
	if v, ok := lookup(EnvTavilyAPIKey); ok && v != "" {
		cfg.TavilyAPIKey = v
	}
	if v, ok := lookup(EnvClassifierURL); ok && v != "" {
		cfg.ClassifierURL = v
	}
	if v, ok := lookup(EnvDBDir); ok && v != "" {
		cfg.DBDir = v
	}
}

// Load builds a Config from defaults, the configuration file found by
// FindConfigFile(explicitPath) and the environment. An explicit path that
// does not exist is an error; a missing default file is not. The loaded
// file is returned too, nil when none was found.
func Load(explicitPath string, lookup func(string) (string, bool)) (*Config, *File, error) {
	cfg := NewConfig()
	cfg.ConfigFilePath = explicitPath

	var file *File
	path := FindConfigFile(explicitPath)
	switch {
	case path != "":
		f, err := LoadConfigFile(path)
		if err != nil {
			return nil, nil, err
		}
		f.Apply(cfg)
		cfg.ConfigFilePath = path
		file = f
	case explicitPath != "":
		return nil, nil, ErrConfigNotFound
	}

	ApplyEnv(cfg, lookup)
	return cfg, file, nil
}
