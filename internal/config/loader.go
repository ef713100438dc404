package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment variables read by Load.
	EnvPrefix = "PATTERND_"

	maxConfigFileSize = 1024 * 1024
)

// DefaultPath returns ~/.config/patternd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "patternd", "config.yaml"), nil
}

// Load reads configuration from path and the environment.
//
// An empty path loads DefaultPath if that file exists. An explicit path
// must exist. Files over 1MB or writable by other users are rejected.
//
// Environment variables map to keys by splitting the first underscore after
// the prefix into a section separator and double underscores into nesting:
//
//	PATTERND_LOGGING_LEVEL            -> logging.level
//	PATTERND_DETECTOR_MIN_CONFIDENCE  -> detector.min_confidence
//	PATTERND_LOGGING_OUTPUT__STDERR   -> logging.output.stderr
//	PATTERND_CATALOG_PATHS=a.yaml,b.toml
//
// Map values in the file merge with the default maps.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps PATTERND_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + strings.ReplaceAll(field, "__", ".")
}

// readConfigFile reads path through a single descriptor so the checked
// file is the one read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFile(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

func validateConfigFile(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults restores values that decode to an unusable zero.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if cfg.Telemetry.Shutdown.Timeout == 0 {
		cfg.Telemetry.Shutdown.Timeout = def.Telemetry.Shutdown.Timeout
	}
	if cfg.Registry.MaxRegexLength == 0 {
		cfg.Registry.MaxRegexLength = def.Registry.MaxRegexLength
	}
	if cfg.Registry.MaxRepeatNesting == 0 {
		cfg.Registry.MaxRepeatNesting = def.Registry.MaxRepeatNesting
	}
	if cfg.Catalog.SQLite.Table == "" {
		cfg.Catalog.SQLite.Table = def.Catalog.SQLite.Table
	}
	if cfg.Catalog.Debounce == 0 {
		cfg.Catalog.Debounce = def.Catalog.Debounce
	}
}
