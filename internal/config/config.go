// Package config resolves blocksql's on-disk configuration: the base
// directory backing the filesystem durable-log implementation, and the
// handful of knobs a host may want to override without code changes.
// Grounded on the original CLI's internal/app (ConfigDir/EnsureConfigDir/
// GetDBPath/LoadSettings), generalized from "the one vybe.db path" to "the
// one blocksql data directory" since a single process may host many
// databases under it (spec §6.3 persisted state is namespaced by db name).
package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the parsed shape of config.yaml.
type Settings struct {
	DataDir            string `yaml:"data_dir"`
	DefaultChecksumAlgo string `yaml:"default_checksum_algo"`
	Backend            string `yaml:"backend"` // "fs" or "bbolt"
}

const defaultConfigTemplate = `# blocksql configuration
# See: blocksqlctl --help

# Optional: override where block/metadata/marker state is persisted.
# Can also be set via BLOCKSQL_DATA_DIR or --data-dir.
# data_dir: ~/.config/blocksql/data

# Optional: "FastHash" (default) or "CRC32".
# default_checksum_algo: FastHash

# Optional: "fs" (default) or "bbolt".
# backend: fs
`

// ConfigDir returns ~/.config/blocksql on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "blocksql"), nil
}

// EnsureConfigDir creates the config directory and a default config.yaml
// if one is not already present.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfigTemplate), 0o600)
	}
	return nil
}

//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are process-wide by design, matching the teacher's app package.
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dataDirOverrideMu sync.RWMutex
	dataDirOverride   string
)

// SetDataDirOverride sets a process-wide override for the data directory,
// intended for the CLI's --data-dir flag.
func SetDataDirOverride(path string) {
	dataDirOverrideMu.Lock()
	dataDirOverride = path
	dataDirOverrideMu.Unlock()
}

func getDataDirOverride() string {
	dataDirOverrideMu.RLock()
	v := dataDirOverride
	dataDirOverrideMu.RUnlock()
	return v
}

// LoadSettings loads config.yaml once per process, following the lookup
// order: ~/.config/blocksql/config.yaml, then /etc/blocksql/config.yaml,
// then ./config.yaml.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, loadErr := loadSettingsFile(filepath.Join(dir, "config.yaml")); loadErr == nil {
			settings = s
			return
		} else if !errors.Is(loadErr, os.ErrNotExist) {
			settingsErr = loadErr
			return
		}

		if s, loadErr := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "blocksql", "config.yaml")); loadErr == nil {
			settings = s
			return
		} else if !errors.Is(loadErr, os.ErrNotExist) {
			settingsErr = loadErr
			return
		}

		if s, loadErr := loadSettingsFile("config.yaml"); loadErr == nil {
			settings = s
			return
		} else if !errors.Is(loadErr, os.ErrNotExist) {
			settingsErr = loadErr
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DataDir resolves the base directory for durable-log state.
// Precedence: CLI override (SetDataDirOverride) > BLOCKSQL_DATA_DIR env var
// > config.yaml data_dir > ~/.config/blocksql/data.
func DataDir() (string, error) {
	if override := getDataDirOverride(); override != "" {
		return ensureDir(override)
	}
	if envPath := os.Getenv("BLOCKSQL_DATA_DIR"); envPath != "" {
		return ensureDir(envPath)
	}

	cfg, err := LoadSettings()
	if err != nil {
		return "", err
	}
	if cfg.DataDir != "" {
		return ensureDir(cfg.DataDir)
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(dir, "data"))
}

func ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
