package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/tidemark/mailpulse/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	globalMu      sync.Mutex
)

// Load reads the mailpulse configuration using Viper.
// The result is cached; subsequent calls return the same Config.
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path, bypassing the
// cached global config. Used by the config watcher and by tests.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return unmarshal(v)
}

// GetViper returns the Viper instance for advanced configuration access.
func GetViper() *viper.Viper {
	globalMu.Lock()
	defer globalMu.Unlock()
	return initViper()
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// initViper initializes Viper with configuration sources and defaults.
// Must be called with globalMu held.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("MAILPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("mailpulse")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mailpulse")

	// A missing config file is fine: defaults plus env cover everything.
	_ = v.ReadInConfig()

	viperInstance = v
	return viperInstance
}
