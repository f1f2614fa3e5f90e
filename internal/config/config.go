package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds everything the client core needs to reach the platform and
// to place its local state. Loaded from ~/.config/confscout/config.yaml,
// overridable via CONFSCOUT_* environment variables.
type Config struct {
	// BaseURL is the root of the platform REST API.
	BaseURL string `mapstructure:"base_url"`

	// StreamURL is the notification push endpoint. Defaults to
	// BaseURL + "/notifications/stream" when empty.
	StreamURL string `mapstructure:"stream_url"`

	// HTTPTimeout bounds every ordinary REST call.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// VerifyTimeout bounds the startup verification call. Initialization
	// resolves to logged-out rather than hang past this.
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`

	// StateDir is where the cookie mirror, keyring file backend and the
	// offline notification cache live.
	StateDir string `mapstructure:"state_dir"`

	// PageSize is the default notification page size.
	PageSize int `mapstructure:"page_size"`

	// CacheEnabled toggles the offline notification cache.
	CacheEnabled bool `mapstructure:"cache_enabled"`
}

// DefaultConfigDir returns ~/.config/confscout, falling back to the
// working directory when the home directory cannot be resolved.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "confscout")
}

// Load reads configuration from the given path (or the default location
// when path is empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("base_url", "https://api.confscout.io")
	v.SetDefault("stream_url", "")
	v.SetDefault("http_timeout", 15*time.Second)
	v.SetDefault("verify_timeout", 10*time.Second)
	v.SetDefault("state_dir", DefaultConfigDir())
	v.SetDefault("page_size", 20)
	v.SetDefault("cache_enabled", true)

	v.SetEnvPrefix("CONFSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; defaults and env carry
		// it. An explicitly named file that fails to read is not.
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, errors.Wrap(err, "[config.Load] reading config file")
		}
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "[config.Load] parsing config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "[config.Load] unmarshalling config")
	}

	if cfg.StreamURL == "" {
		cfg.StreamURL = strings.TrimRight(cfg.BaseURL, "/") + "/notifications/stream"
	}

	return &cfg, nil
}
