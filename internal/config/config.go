package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	WorkspacesDir string `mapstructure:"workspaces_dir" yaml:"workspaces_dir"`

	// Compute engine
	DefaultEngine   string `mapstructure:"default_engine" yaml:"default_engine"`
	RemoteEngineURL string `mapstructure:"remote_engine_url" yaml:"remote_engine_url"`
	RemoteAPIKey    string `mapstructure:"remote_api_key" yaml:"remote_api_key"`

	// HTTP/Retry configuration (remote engine)
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Dispatcher; zero means unbounded / no deadline.
	MaxWorkers     int `mapstructure:"max_workers" yaml:"max_workers"`
	TaskTimeoutSec int `mapstructure:"task_timeout_sec" yaml:"task_timeout_sec"`

	ResultStore    string `mapstructure:"result_store" yaml:"result_store"`
	ColumnPacking  string `mapstructure:"column_packing" yaml:"column_packing"`
	SeriesOverflow string `mapstructure:"series_overflow" yaml:"series_overflow"`

	ServeAddr string `mapstructure:"serve_addr" yaml:"serve_addr"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"workspaces_dir", "default_engine", "remote_engine_url", "remote_api_key",
	"http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
	"max_workers", "task_timeout_sec", "result_store", "column_packing", "series_overflow",
	"serve_addr",
}

// HTTPTimeout returns the remote engine client timeout.
func (c *Global) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// TaskTimeout returns the per-task deadline, 0 when disabled.
func (c *Global) TaskTimeout() time.Duration {
	if c.TaskTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.TaskTimeoutSec) * time.Second
}

// RetryDelays returns the base and max backoff delays.
func (c *Global) RetryDelays() (time.Duration, time.Duration) {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond, time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".statloom"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.statloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	// the file may hold the remote API key
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("STATLOOM")
	v.AutomaticEnv()

	v.SetDefault("workspaces_dir", "")
	v.SetDefault("default_engine", "local")
	v.SetDefault("remote_engine_url", "")
	v.SetDefault("remote_api_key", "")
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("max_workers", 0)
	v.SetDefault("task_timeout_sec", 0)
	v.SetDefault("result_store", "file")
	v.SetDefault("column_packing", "indexed")
	v.SetDefault("series_overflow", "reject")
	v.SetDefault("serve_addr", "127.0.0.1:8080")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		_ = os.MkdirAll(dir, 0o755)
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.WorkspacesDir == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		c.WorkspacesDir = filepath.Join(dir, "workspaces")
	}
	return &c, nil
}
