// Package config loads crepo settings from config.yaml, CREPO_ environment
// variables and defaults, in that order of precedence (environment first).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/crepo/internal/repoerr"
)

const (
	fileName = "config"
	fileType = "yaml"
	fileExt  = "config.yaml"

	envPrefix = "CREPO"

	KeyDatabase         = "database"
	KeyWorkspace        = "workspace"
	KeyUser             = "user"
	KeyFetchDepth       = "fetch_depth"
	KeyAutoLastModified = "auto_last_modified"
	KeyLogLevel         = "log_level"
)

// DefaultYAML is written by Init into a fresh config directory.
const DefaultYAML = `# crepo configuration

# SQLite database file, relative to the working directory
database: crepo.db

# Workspace used by commands that do not name one
workspace: default
user: admin

# Levels below a requested node returned in one read
fetch_depth: 1
auto_last_modified: true

# debug, info, warn or error
log_level: info
`

// Config is the resolved configuration.
type Config struct {
	Database         string
	Workspace        string
	User             string
	FetchDepth       int
	AutoLastModified bool
	LogLevel         string
}

// Load reads config.yaml from dir. A missing file is not an error; the
// defaults and environment still apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetDefault(KeyDatabase, "crepo.db")
	v.SetDefault(KeyWorkspace, "default")
	v.SetDefault(KeyUser, "admin")
	v.SetDefault(KeyFetchDepth, 1)
	v.SetDefault(KeyAutoLastModified, true)
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if dir != "" {
		v.SetConfigName(fileName)
		v.SetConfigType(fileType)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Database:         v.GetString(KeyDatabase),
		Workspace:        v.GetString(KeyWorkspace),
		User:             v.GetString(KeyUser),
		FetchDepth:       v.GetInt(KeyFetchDepth),
		AutoLastModified: v.GetBool(KeyAutoLastModified),
		LogLevel:         strings.ToLower(v.GetString(KeyLogLevel)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no session could use.
func (c *Config) Validate() error {
	if c.FetchDepth < 0 {
		return repoerr.At(repoerr.CodeInvalidArgument, "config", "", "%s must not be negative, got %d", KeyFetchDepth, c.FetchDepth)
	}
	if c.Database == "" {
		return repoerr.At(repoerr.CodeInvalidArgument, "config", "", "%s must be set", KeyDatabase)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, repoerr.At(repoerr.CodeInvalidArgument, "config", "", "invalid %s %q", KeyLogLevel, c.LogLevel)
	}
	return l, nil
}

// Init creates dir and writes the default config.yaml unless one exists.
func Init(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(dir, fileExt)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultYAML), 0o644); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}
	return path, nil
}
