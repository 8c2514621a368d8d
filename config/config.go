package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPageSize  = 10
	DefaultCachePath = "bunnyup.db"
	DefaultPort      = 3000
	DefaultBucket    = "uploads"
)

// TomlBackend points at the hosted backend project
type TomlBackend struct {
	URL     string `toml:"url"`
	AnonKey string `toml:"anon_key"`
}

// TomlStorage holds the S3 compatible object storage settings. PublicURL is
// the base public objects are served from, {public_url}/{bucket}/{key}; it
// defaults to the endpoint itself.
type TomlStorage struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
	PublicURL string `toml:"public_url"`
}

// TomlFeed holds feed paging settings
type TomlFeed struct {
	PageSize int `toml:"page_size"`
}

// TomlCache holds the local SQLite cache location
type TomlCache struct {
	Path string `toml:"path"`
}

// TomlServer holds the local preview server settings
type TomlServer struct {
	Port int `toml:"port"`
}

// TomlDatabase holds direct Postgres credentials, used for administration only
type TomlDatabase struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"ssl_mode"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Backend  TomlBackend  `toml:"backend"`
	Storage  TomlStorage  `toml:"storage"`
	Feed     TomlFeed     `toml:"feed"`
	Cache    TomlCache    `toml:"cache"`
	Server   TomlServer   `toml:"server"`
	Database TomlDatabase `toml:"database"`
}

// Default returns a config with every default applied
func Default() *TomlConfig {
	cfg := &TomlConfig{}
	cfg.applyDefaults()
	return cfg
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// LoadOrDefault loads the config file if it exists and falls back to defaults
// when it does not
func LoadOrDefault(path string) (*TomlConfig, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadConfig(path)
}

func (c *TomlConfig) applyDefaults() {
	if c.Feed.PageSize <= 0 {
		c.Feed.PageSize = DefaultPageSize
	}
	if c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = DefaultBucket
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require"
	}
}

// ValidateDatabase reports missing direct database credentials
func (c *TomlConfig) ValidateDatabase() error {
	if c.Database.Host == "" {
		return errors.New("database host is not configured")
	}
	if c.Database.User == "" {
		return errors.New("database user is not configured")
	}
	return nil
}

// Validate reports settings without which no backend call can be made
func (c *TomlConfig) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend url is not configured")
	}
	if c.Backend.AnonKey == "" {
		return errors.New("backend anon key is not configured")
	}
	return nil
}
