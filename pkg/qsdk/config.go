package qsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Output  string        `mapstructure:"output"`

	v *viper.Viper
}

const (
	EnvPrefix  = "QREMOTE"
	ConfigName = "qremote"
	ConfigRoot = ".qremote"

	APIURLKey  = "api_url"
	TimeoutKey = "timeout"
	OutputKey  = "output"

	DefaultAPIURL = "http://localhost:8000"
)

// LoadConfig reads qremote.yaml from the working directory, merges
// .qremote/config.yaml over it and lets QREMOTE_* variables override both.
// An explicit cfgFile replaces the search.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		for _, name := range []string{ConfigName + ".yaml", ConfigName + ".yml", "." + ConfigName + ".yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	cfg := &Config{v: v}
	if err := cfg.reload(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(APIURLKey, DefaultAPIURL)
	v.SetDefault(TimeoutKey, 30*time.Second)
	v.SetDefault(OutputKey, "table")
}

// reload re-reads the struct fields after flags were bound to viper.
func (c *Config) reload() error {
	if err := c.v.Unmarshal(c); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return nil
}

// Set overrides a key, typically from a CLI flag, and refreshes the fields.
func (c *Config) Set(key string, value any) error {
	c.v.Set(key, value)
	return c.reload()
}

// GetString returns a string value from the underlying viper instance
func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed returns the config file that was used (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
