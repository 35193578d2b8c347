package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/logging"
)

const (
	defaultListenAddr       = "127.0.0.1:7436"
	defaultSettle           = 100 * time.Millisecond
	defaultMaxWatches       = 4096
	defaultAgeOutInterval   = time.Hour
	defaultAgeOutMinAge     = 24 * time.Hour
	defaultContentHashCache = 4096
	defaultSymlinkCache     = 1024
	defaultLogBufferSize    = logging.DefaultBufferSize
)

// Duration wraps time.Duration so YAML values like "250ms" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RootConfig declares one directory tree to watch at startup.
type RootConfig struct {
	Path string `yaml:"path"`
}

// Config is the daemon configuration, loaded once at startup.
type Config struct {
	ListenAddr string       `yaml:"listen"`
	LogLevel   string       `yaml:"log_level"`
	Roots      []RootConfig `yaml:"roots"`

	Settle     Duration `yaml:"settle"`
	MaxWatches int      `yaml:"max_watches"`

	AgeOutInterval Duration `yaml:"age_out_interval"`
	AgeOutMinAge   Duration `yaml:"age_out_min_age"`

	ContentHashCacheSize int `yaml:"content_hash_cache"`
	SymlinkCacheSize     int `yaml:"symlink_cache"`
	LogBufferSize        int `yaml:"log_buffer_size"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddr:           defaultListenAddr,
		LogLevel:             string(logging.LevelInfo),
		Settle:               Duration(defaultSettle),
		MaxWatches:           defaultMaxWatches,
		AgeOutInterval:       Duration(defaultAgeOutInterval),
		AgeOutMinAge:         Duration(defaultAgeOutMinAge),
		ContentHashCacheSize: defaultContentHashCache,
		SymlinkCacheSize:     defaultSymlinkCache,
		LogBufferSize:        defaultLogBufferSize,
	}
}

// Load reads path, fills unset fields with defaults, and applies environment
// overrides. A missing file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	loaded := Config{}

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else {
			if err := yaml.Unmarshal(payload, &loaded); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	merged := normalize(loaded)
	applyEnv(&merged)

	level, ok := logging.ParseLevel(merged.LogLevel)
	if !ok {
		return Config{}, fmt.Errorf("unknown log level %q", merged.LogLevel)
	}
	merged.LogLevel = string(level)

	if err := validate(merged); err != nil {
		return Config{}, err
	}
	return merged, nil
}

func normalize(loaded Config) Config {
	defaults := Default()

	if strings.TrimSpace(loaded.ListenAddr) == "" {
		loaded.ListenAddr = defaults.ListenAddr
	}
	if strings.TrimSpace(loaded.LogLevel) == "" {
		loaded.LogLevel = defaults.LogLevel
	}
	if loaded.Settle <= 0 {
		loaded.Settle = defaults.Settle
	}
	if loaded.MaxWatches <= 0 {
		loaded.MaxWatches = defaults.MaxWatches
	}
	if loaded.AgeOutInterval <= 0 {
		loaded.AgeOutInterval = defaults.AgeOutInterval
	}
	if loaded.AgeOutMinAge <= 0 {
		loaded.AgeOutMinAge = defaults.AgeOutMinAge
	}
	if loaded.ContentHashCacheSize <= 0 {
		loaded.ContentHashCacheSize = defaults.ContentHashCacheSize
	}
	if loaded.SymlinkCacheSize <= 0 {
		loaded.SymlinkCacheSize = defaults.SymlinkCacheSize
	}
	if loaded.LogBufferSize <= 0 {
		loaded.LogBufferSize = defaults.LogBufferSize
	}
	return loaded
}

func applyEnv(config *Config) {
	if value := strings.TrimSpace(os.Getenv("VIGIL_LISTEN")); value != "" {
		config.ListenAddr = value
	}
	if value := strings.TrimSpace(os.Getenv("VIGIL_LOG_LEVEL")); value != "" {
		config.LogLevel = value
	}
	if value := strings.TrimSpace(os.Getenv("VIGIL_MAX_WATCHES")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			config.MaxWatches = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("VIGIL_SETTLE")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			config.Settle = Duration(parsed)
		}
	}
}

func validate(config Config) error {
	seen := make(map[string]struct{}, len(config.Roots))
	for _, root := range config.Roots {
		path := strings.TrimSpace(root.Path)
		if path == "" {
			return fmt.Errorf("root with empty path")
		}
		if _, dup := seen[path]; dup {
			return fmt.Errorf("duplicate root %s", path)
		}
		seen[path] = struct{}{}
	}
	return nil
}
