package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/munroe/arm-forth-sim/vm"
)

// ConfigError wraps a fatal configuration problem: a malformed config
// file, or (when the driver builds regions from it) an overlapping memory
// region. Fatal per the error handling design — the driver prints it and
// exits nonzero rather than attempting to continue.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Config holds the simulator's file-backed defaults. CLI flags always
// override the corresponding field after Load.
type Config struct {
	Memory struct {
		Base uint32 `toml:"base"`
		Size uint32 `toml:"size"`
	} `toml:"memory"`

	Image struct {
		DefaultPath string `toml:"default_path"`
		SearchPath  string `toml:"search_path"`
	} `toml:"image"`

	Journal struct {
		Capacity int  `toml:"capacity"`
		Enabled  bool `toml:"enabled"`
	} `toml:"journal"`

	Execution struct {
		MaxCycles uint64 `toml:"max_cycles"`
	} `toml:"execution"`
}

// DefaultConfig returns the built-in defaults named in §6 of the design:
// a 20 MiB guest region at 2 GiB, image FORTH.img, search path ".".
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Memory.Base = vm.DefaultGuestBase
	cfg.Memory.Size = vm.DefaultGuestSize

	cfg.Image.DefaultPath = "FORTH.img"
	cfg.Image.SearchPath = "."

	cfg.Journal.Capacity = vm.DefaultJournalCapacity
	cfg.Journal.Enabled = true

	cfg.Execution.MaxCycles = vm.DefaultMaxCycles

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "arm-forth-sim")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "arm-forth-sim")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file, or the built-in
// defaults if it does not exist.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file, or the built-in
// defaults if it does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to parse %q: %w", path, err)}
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("config: failed to create directory %q: %w", dir, err)
	}

	f, err := os.Create(path) // #nosec G304 -- user-specified config file path
	if err != nil {
		return fmt.Errorf("config: failed to create %q: %w", path, err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("config: failed to encode: %w", err)
	}

	return nil
}

// ResolveSearchPath returns the Forth search path directories: the CLI
// flag value if non-empty, else MUFORTH_PATH if set, else the config
// file's search path, else ".".
func ResolveSearchPath(flagValue string, cfg *Config) []string {
	if flagValue != "" {
		return filepath.SplitList(flagValue)
	}
	if env := os.Getenv("MUFORTH_PATH"); env != "" {
		return filepath.SplitList(env)
	}
	if cfg != nil && cfg.Image.SearchPath != "" {
		return filepath.SplitList(cfg.Image.SearchPath)
	}
	return []string{"."}
}
