// Package config handles configuration loading for the gridviewd server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Remote   RemoteConfig             `yaml:"remote"`
	Grid     GridConfig               `yaml:"grid"`
	Cache    CacheConfig              `yaml:"cache"`
	Render   RenderConfig             `yaml:"render"`
	Datasets map[string]DatasetConfig `yaml:"datasets"`
	// DefaultDataset names the dataset served when the client does not pick one.
	DefaultDataset string `yaml:"default_dataset"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// RemoteConfig contains dataset service settings.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GridConfig contains block cache settings.
type GridConfig struct {
	BlockSize         int `yaml:"block_size"`
	MaxResidentBlocks int `yaml:"max_resident_blocks"`
}

// CacheConfig contains response caching settings.
type CacheConfig struct {
	WindowSizeMB     int `yaml:"window_size_mb"`
	WindowTTLMinutes int `yaml:"window_ttl_minutes"`
	PreviewCacheSize int `yaml:"preview_cache_size"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	PreviewSize     int    `yaml:"preview_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// DatasetConfig describes one dataset.
type DatasetConfig struct {
	Path string `yaml:"path"`
	URI  string `yaml:"uri"`
	// TileDBPath, when set, serves this dataset from a local TileDB array
	// instead of the remote service (requires a build with -tags tiledb).
	TileDBPath string `yaml:"tiledb_path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "gridviewd",
		},
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8081",
			TimeoutSeconds: 30,
		},
		Grid: GridConfig{
			BlockSize:         100,
			MaxResidentBlocks: 1024,
		},
		Cache: CacheConfig{
			WindowSizeMB:     128,
			WindowTTLMinutes: 10,
			PreviewCacheSize: 256,
		},
		Render: RenderConfig{
			PreviewSize:     256,
			DefaultColormap: "viridis",
		},
	}
}

// DatasetIDs returns the configured dataset IDs in stable order, with the
// default dataset first.
func (c *Config) DatasetIDs() []string {
	ids := make([]string, 0, len(c.Datasets))
	if _, ok := c.Datasets[c.DefaultDataset]; ok {
		ids = append(ids, c.DefaultDataset)
	}
	for id := range c.Datasets {
		if id != c.DefaultDataset {
			ids = append(ids, id)
		}
	}
	return ids
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = defaults.Remote.BaseURL
	}
	if cfg.Remote.TimeoutSeconds == 0 {
		cfg.Remote.TimeoutSeconds = defaults.Remote.TimeoutSeconds
	}
	if cfg.Grid.BlockSize == 0 {
		cfg.Grid.BlockSize = defaults.Grid.BlockSize
	}
	if cfg.Grid.MaxResidentBlocks == 0 {
		cfg.Grid.MaxResidentBlocks = defaults.Grid.MaxResidentBlocks
	}
	if cfg.Cache.WindowSizeMB == 0 {
		cfg.Cache.WindowSizeMB = defaults.Cache.WindowSizeMB
	}
	if cfg.Cache.WindowTTLMinutes == 0 {
		cfg.Cache.WindowTTLMinutes = defaults.Cache.WindowTTLMinutes
	}
	if cfg.Cache.PreviewCacheSize == 0 {
		cfg.Cache.PreviewCacheSize = defaults.Cache.PreviewCacheSize
	}
	if cfg.Render.PreviewSize == 0 {
		cfg.Render.PreviewSize = defaults.Render.PreviewSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.DefaultDataset == "" && len(cfg.Datasets) == 1 {
		for id := range cfg.Datasets {
			cfg.DefaultDataset = id
		}
	}
}

func validate(cfg *Config) error {
	for id, ds := range cfg.Datasets {
		if ds.Path == "" && ds.TileDBPath == "" {
			return fmt.Errorf("dataset %q needs a path or a tiledb_path", id)
		}
	}
	if cfg.DefaultDataset != "" {
		if _, ok := cfg.Datasets[cfg.DefaultDataset]; !ok {
			return fmt.Errorf("default_dataset %q is not configured", cfg.DefaultDataset)
		}
	}
	return nil
}
