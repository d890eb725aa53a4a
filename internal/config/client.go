package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig configures the reconciler CLI
type ClientConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	StateFile string        `mapstructure:"state_file"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Debug     bool          `mapstructure:"debug"`
}

// LoadClientConfig reads an optional YAML file, then TASKGATE_* environment
// variables, which take precedence.
func LoadClientConfig(configFile string) (*ClientConfig, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("taskgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/taskgate")
	}

	v.SetEnvPrefix("TASKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"server_url", "state_file", "timeout", "debug"} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("server_url", "http://localhost:3001")
	v.SetDefault("state_file", ".taskgate-state.json")
	v.SetDefault("timeout", "15s")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
