package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/fnpulse/errors"
)

// EnvPrefix prefixes every environment override: FNPULSE_SERVER_PORT=8080
const EnvPrefix = "FNPULSE"

var (
	mu             sync.Mutex
	globalConfig   *Config
	viperInstance  *viper.Viper
	explicitConfig string
)

// SetConfigFile pins the configuration to a single file (the --config
// flag). Search paths are skipped; env vars still apply on top.
func SetConfigFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	explicitConfig = path
	globalConfig = nil
	viperInstance = nil
}

// ConfigFile returns the file passed to SetConfigFile, or the highest
// precedence file found on the search path. Empty when none exists.
func ConfigFile() string {
	mu.Lock()
	defer mu.Unlock()
	if explicitConfig != "" {
		return explicitConfig
	}
	paths := searchPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err == nil {
			return paths[i]
		}
	}
	return ""
}

// Load reads and validates the configuration. The result is cached until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	viperInstance = v
	globalConfig = config
	return globalConfig, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// Settings returns the effective settings as a nested map, keyed the way
// they appear in am.toml.
func Settings() (map[string]interface{}, error) {
	if _, err := Load(); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return viperInstance.AllSettings(), nil
}

// Reset clears the cached configuration (config reload, tests)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if explicitConfig != "" {
		if err := mergeConfigFile(v, explicitConfig); err != nil {
			return nil, err
		}
		return v, nil
	}

	// Precedence (lowest to highest): system < user < project < env vars
	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := mergeConfigFile(v, path); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// mergeConfigFile layers one TOML file over v. MergeConfigMap keeps the
// file below env vars in viper's lookup order.
func mergeConfigFile(v *viper.Viper, path string) error {
	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	fileViper.SetConfigType("toml")
	if err := fileViper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := v.MergeConfigMap(fileViper.AllSettings()); err != nil {
		return errors.Wrapf(err, "failed to merge config file %s", path)
	}
	return nil
}

// searchPaths lists candidate config files in ascending precedence
func searchPaths() []string {
	paths := []string{"/etc/fnpulse/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".fnpulse", "am.toml"))
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}
	return paths
}

// findProjectConfig searches for am.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
