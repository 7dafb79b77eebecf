package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Defaults for the on-host paths. The state directory is the source of
// truth across invocations; the kernel is a cache of its intent.
const (
	DefaultStateDir    = "/etc/vpcctl"
	DefaultLockName    = ".lock"
	DefaultLogName     = "vpcctl.log"
	DefaultLockTimeout = 10 * time.Second
)

// Config holds all configuration for vpcctl.
type Config struct {
	// StateDir is the directory holding per-VPC JSON documents, the
	// advisory lock and the audit log.
	StateDir string `mapstructure:"state_dir"`

	// LogPath overrides the audit log location (defaults to
	// <state_dir>/vpcctl.log).
	LogPath string `mapstructure:"log_path"`

	// LockPath overrides the advisory lock location (defaults to
	// <state_dir>/.lock).
	LockPath string `mapstructure:"lock_path"`

	// LockTimeout bounds how long a mutating command waits for the
	// advisory lock before failing with a lock error.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`
}

// LoadConfig reads the TOML config file (if present) plus VPCCTL_*
// environment variables and returns the merged configuration.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("state_dir", DefaultStateDir)
	// Empty defaults register the keys so AutomaticEnv picks up
	// VPCCTL_LOG_PATH and VPCCTL_LOCK_PATH on Unmarshal.
	v.SetDefault("log_path", "")
	v.SetDefault("lock_path", "")
	v.SetDefault("lock_timeout", DefaultLockTimeout)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("VPCCTL")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
			// Missing file is fine; defaults and env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.LogPath == "" {
		cfg.LogPath = cfg.StateDir + "/" + DefaultLogName
	}
	if cfg.LockPath == "" {
		cfg.LockPath = cfg.StateDir + "/" + DefaultLockName
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	return &cfg, nil
}
