package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/client"
)

type contextKey string

const configKey contextKey = "staffctl-config"

// Defaults applied when neither flag, environment, nor profile file set a value.
const (
	DefaultServerURL = "http://localhost:8080/api/v1"
	DefaultLogLevel  = "warn"
	DefaultTimeout   = 30 * time.Second
)

// Environment variables read by Resolve.
const (
	EnvServer         = "STAFFCTL_SERVER"
	EnvNonInteractive = "STAFFCTL_NON_INTERACTIVE"
	EnvLogLevel       = "STAFFCTL_LOG_LEVEL"
	EnvConfig         = "STAFFCTL_CONFIG"
)

// GlobalConfig holds shared configuration for all staffctl commands.
// It is injected into the cobra command context by the root command's
// PersistentPreRunE hook and consumed by all subcommands.
type GlobalConfig struct {
	ServerURL      string
	NonInteractive bool
	LogLevel       string
	Timeout        time.Duration
	ClientProvider *client.Provider
}

// FileConfig is the optional YAML profile at ~/.staffgrid/config.yaml.
type FileConfig struct {
	Server   string `yaml:"server"`
	LogLevel string `yaml:"log_level"`
	Timeout  string `yaml:"timeout"`
}

// Flags carries the values of the root command's persistent flags and which
// of them the user set explicitly.
type Flags struct {
	ServerURL      string
	ServerSet      bool
	NonInteractive bool
	LogLevel       string
	LogLevelSet    bool
	ConfigPath     string
}

// DefaultPath returns ~/.staffgrid/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".staffgrid", "config.yaml"), nil
}

// LoadFile reads a profile file. A missing file yields an empty FileConfig.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// Resolve merges flags, environment, and the profile file into a
// GlobalConfig. Precedence is flag > env > file > default. getenv is
// os.Getenv outside tests.
func Resolve(flags Flags, getenv func(string) string) (*GlobalConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	path := flags.ConfigPath
	if path == "" {
		path = getenv(EnvConfig)
	}
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &GlobalConfig{
		ServerURL: first(flagValue(flags.ServerURL, flags.ServerSet), getenv(EnvServer), file.Server, DefaultServerURL),
		LogLevel:  first(flagValue(flags.LogLevel, flags.LogLevelSet), getenv(EnvLogLevel), file.LogLevel, DefaultLogLevel),
		Timeout:   DefaultTimeout,
	}
	cfg.NonInteractive = flags.NonInteractive || getenv(EnvNonInteractive) == "1"

	if file.Timeout != "" {
		d, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q in %s: %w", file.Timeout, path, err)
		}
		cfg.Timeout = d
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return cfg, nil
}

func flagValue(v string, set bool) string {
	if set {
		return v
	}
	return ""
}

func first(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// InjectConfig adds config to the cobra command context.
// This should be called in the root command's PersistentPreRunE.
func InjectConfig(ctx context.Context, cfg *GlobalConfig) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from the cobra command context.
// Returns (nil, false) if config is not present.
func FromContext(ctx context.Context) (*GlobalConfig, bool) {
	cfg, ok := ctx.Value(configKey).(*GlobalConfig)
	return cfg, ok
}

// MustFromContext retrieves config from context or panics.
// This should only be used in command RunE functions where we know
// the config has been injected by the root command.
func MustFromContext(ctx context.Context) *GlobalConfig {
	cfg, ok := FromContext(ctx)
	if !ok {
		panic("staffctl: config not found in context - this is a bug in staffctl")
	}
	return cfg
}
