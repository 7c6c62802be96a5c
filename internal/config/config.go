package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/nodevisor/internal/logger"
	"github.com/loykin/nodevisor/internal/process"
	"github.com/loykin/nodevisor/internal/rpc"
)

// EnvPrefix is prepended to every environment override, e.g. NODEVISOR_RPC_PORT.
const EnvPrefix = "NODEVISOR"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Node    process.Config `toml:"node" mapstructure:"node"`
	RPC     RPCConfig      `toml:"rpc" mapstructure:"rpc"`
	Server  ServerConfig   `toml:"server" mapstructure:"server"`
	Log     LogConfig      `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig  `toml:"history" mapstructure:"history"`
}

type RPCConfig struct {
	Port     int           `toml:"port" mapstructure:"port"`           // used when the run args carry no port flag
	PortFlag string        `toml:"port_flag" mapstructure:"port_flag"` // node flag naming its JSON-RPC port
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	HideTime   bool   `toml:"hide_time" mapstructure:"hide_time"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	Sinks   []string      `toml:"sinks" mapstructure:"sinks"` // DSNs, see history/factory
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// Logger converts the [log] table into logger settings.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:    l.Level,
		Format:   l.Format,
		Color:    l.Color,
		HideTime: l.HideTime,
		File: logger.FileConfig{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.work_dir", ".")
	v.SetDefault("node.program", process.DefaultProgram)
	v.SetDefault("node.program_args", process.DefaultProgramArgs)
	v.SetDefault("node.log_file", "node.log")
	v.SetDefault("node.sink_command", process.DefaultSinkCommand)
	v.SetDefault("node.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("node.echo_output", false)
	v.SetDefault("node.pid_file", "")

	v.SetDefault("rpc.port", rpc.DefaultPort)
	v.SetDefault("rpc.port_flag", rpc.DefaultPortFlag)
	v.SetDefault("rpc.timeout", rpc.DefaultTimeout)

	v.SetDefault("server.listen", "127.0.0.1:7070")
	v.SetDefault("server.base_path", "/api")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.hide_time", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.timeout", 3*time.Second)
}

// Load reads the TOML file at path, applies NODEVISOR_* environment
// overrides and fills defaults. An empty path loads defaults and env only.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *FileConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Node.LogFile) == "" {
		errs = append(errs, errors.New("node.log_file must not be empty"))
	}
	if c.Node.StopTimeout < 0 {
		errs = append(errs, errors.New("node.stop_timeout must not be negative"))
	}
	if c.RPC.Port < 1 || c.RPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("rpc.port %d out of range", c.RPC.Port))
	}
	if c.RPC.Timeout <= 0 {
		errs = append(errs, errors.New("rpc.timeout must be positive"))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
