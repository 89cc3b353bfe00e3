// Package config provides configuration management for coda.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server"`
	Logger LoggerConfig `mapstructure:"logger"`
}

// StoreConfig holds document store connection parameters.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend" validate:"required,oneof=badger sqlite redis mongo memory"`
	Host        string        `mapstructure:"host" validate:"required_if=Backend redis,required_if=Backend mongo"`
	Port        int           `mapstructure:"port" validate:"min=0,max=65535"`
	Write       bool          `mapstructure:"write"`
	DBName      string        `mapstructure:"dbname" validate:"required"`
	DataDir     string        `mapstructure:"data_dir" validate:"required_if=Backend badger,required_if=Backend sqlite"`
	URI         string        `mapstructure:"uri"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
}

// Addr returns host:port for networked backends.
func (c StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoURI returns the configured URI, or mongodb://host:port.
func (c StoreConfig) MongoURI() string {
	if c.URI != "" {
		return c.URI
	}
	return "mongodb://" + c.Addr()
}

// Options returns the session options in the shape reported by `coda status`.
func (c StoreConfig) Options() map[string]any {
	return map[string]any{
		"backend": c.Backend,
		"host":    c.Host,
		"port":    c.Port,
		"write":   c.Write,
		"dbname":  c.DBName,
	}
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format      string `mapstructure:"format" validate:"oneof=json console"`
	Output      string `mapstructure:"output" validate:"required"`
	Development bool   `mapstructure:"development"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     "badger",
			Host:        "localhost",
			Port:        6379,
			Write:       true,
			DBName:      "coda",
			DataDir:     defaultDataDir(),
			DialTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSizeMB:  64,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// UserConfigName is the per-user config file looked up in $HOME when no
// explicit path is given.
const UserConfigName = ".coda"

// Load loads configuration from defaults, the config file, CODA_* environment
// variables and finally overrides, in increasing order of precedence.
// Overrides use dotted keys, e.g. "store.host".
func Load(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("CODA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName(UserConfigName)
		v.AddConfigPath(home)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read user config: %w", err)
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values in Viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Store defaults
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.host", defaults.Store.Host)
	v.SetDefault("store.port", defaults.Store.Port)
	v.SetDefault("store.write", defaults.Store.Write)
	v.SetDefault("store.dbname", defaults.Store.DBName)
	v.SetDefault("store.data_dir", defaults.Store.DataDir)
	v.SetDefault("store.uri", defaults.Store.URI)
	v.SetDefault("store.username", defaults.Store.Username)
	v.SetDefault("store.password", defaults.Store.Password)
	v.SetDefault("store.dial_timeout", defaults.Store.DialTimeout)

	// Server defaults
	v.SetDefault("server.http_addr", defaults.Server.HTTPAddr)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Logger defaults
	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)
	v.SetDefault("logger.output", defaults.Logger.Output)
	v.SetDefault("logger.development", defaults.Logger.Development)
	v.SetDefault("logger.max_size_mb", defaults.Logger.MaxSizeMB)
	v.SetDefault("logger.max_backups", defaults.Logger.MaxBackups)
	v.SetDefault("logger.max_age_days", defaults.Logger.MaxAgeDays)
	v.SetDefault("logger.compress", defaults.Logger.Compress)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "coda")
}
