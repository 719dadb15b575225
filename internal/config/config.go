// Package config loads operational settings for the cmd/ CLI layer via
// Viper: a config-file-or-env toggle struct unmarshaled via mapstructure,
// with sane defaults when no config file is present. None of this is
// part of the on-disk array format; it only governs how the cmd layer
// opens a file.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the operational settings the cmd layer consults when
// opening an earray/farray file for inspection or creation.
type Config struct {
	// CacheCapacityHint is an advisory entry-count budget passed to
	// cache.Cache.SetCapacityHint; the cache itself never enforces it
	// (see cache.Cache.capacityHint).
	CacheCapacityHint int `mapstructure:"cache_capacity_hint"`
	// VerifyChecksums gates block.VerifyChecksums.
	VerifyChecksums bool `mapstructure:"verify_checksums"`
}

// Load reads earrfa.yaml from the usual search paths (falling back to
// defaults if none is found) and environment variables prefixed
// EARRFA_, the way LoadDMGConfig reads apfs-config.yaml and APFS_*.
func Load() (*Config, error) {
	viper.SetConfigName("earrfa")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.earrfa")
	viper.AddConfigPath("/etc/earrfa")

	viper.SetDefault("cache_capacity_hint", 1024)
	viper.SetDefault("verify_checksums", true)

	viper.SetEnvPrefix("EARRFA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
