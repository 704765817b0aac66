package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultInterpreter       = "python3"
	defaultAgentScript       = "assistant/quill_agent.py"
	defaultHost              = "127.0.0.1"
	defaultPort              = 8765
	defaultMaxResponseBytes  = 4096
	defaultDialTimeout       = 5 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultReadTimeout       = 2 * time.Minute
	defaultLaunchTimeout     = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultLogMaxSizeBytes   = 10 * 1024 * 1024
	defaultLogMaxFiles       = 5
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	// Interpreter is the runtime used to launch the assistant script.
	Interpreter string
	// AgentScript is the assistant entry point, relative to InstallDir
	// unless absolute.
	AgentScript string
	// InstallDir anchors relative assistant paths. Defaults to the
	// directory containing the quill executable.
	InstallDir string

	Host             string
	Port             int
	MaxResponseBytes int

	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	LaunchTimeout     time.Duration
	HeartbeatInterval time.Duration

	LogMaxSizeBytes int64
	LogMaxFiles     int
}

type fileConfig struct {
	Interpreter       *string `toml:"interpreter"`
	AgentScript       *string `toml:"agent_script"`
	InstallDir        *string `toml:"install_dir"`
	Host              *string `toml:"host"`
	Port              *int    `toml:"port"`
	MaxResponseBytes  *int    `toml:"max_response_bytes"`
	DialTimeout       *string `toml:"dial_timeout"`
	WriteTimeout      *string `toml:"write_timeout"`
	ReadTimeout       *string `toml:"read_timeout"`
	LaunchTimeout     *string `toml:"launch_timeout"`
	HeartbeatInterval *string `toml:"heartbeat_interval"`
	LogMaxSizeMB      *int    `toml:"log_max_size_mb"`
	LogMaxFiles       *int    `toml:"log_max_files"`
}

// Load reads config from ~/.quill/config.toml and overlays a project-local
// .quill/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".quill", "config.toml"),
		filepath.Join(workingDir, ".quill", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Interpreter:       defaultInterpreter,
		AgentScript:       defaultAgentScript,
		Host:              defaultHost,
		Port:              defaultPort,
		MaxResponseBytes:  defaultMaxResponseBytes,
		DialTimeout:       defaultDialTimeout,
		WriteTimeout:      defaultWriteTimeout,
		ReadTimeout:       defaultReadTimeout,
		LaunchTimeout:     defaultLaunchTimeout,
		HeartbeatInterval: defaultHeartbeatInterval,
		LogMaxSizeBytes:   defaultLogMaxSizeBytes,
		LogMaxFiles:       defaultLogMaxFiles,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyScalarOverrides(cfg, decoded)
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	applyLogOverrides(cfg, decoded)

	return nil
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.Interpreter != nil && strings.TrimSpace(*decoded.Interpreter) != "" {
		cfg.Interpreter = strings.TrimSpace(*decoded.Interpreter)
	}
	if decoded.AgentScript != nil && strings.TrimSpace(*decoded.AgentScript) != "" {
		cfg.AgentScript = strings.TrimSpace(*decoded.AgentScript)
	}
	if decoded.InstallDir != nil {
		cfg.InstallDir = strings.TrimSpace(*decoded.InstallDir)
	}
	if decoded.Host != nil && strings.TrimSpace(*decoded.Host) != "" {
		cfg.Host = strings.TrimSpace(*decoded.Host)
	}
	if decoded.Port != nil && *decoded.Port > 0 {
		cfg.Port = *decoded.Port
	}
	if decoded.MaxResponseBytes != nil && *decoded.MaxResponseBytes > 0 {
		cfg.MaxResponseBytes = *decoded.MaxResponseBytes
	}
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	overrides := []struct {
		value *string
		key   string
		out   *time.Duration
	}{
		{decoded.DialTimeout, "dial_timeout", &cfg.DialTimeout},
		{decoded.WriteTimeout, "write_timeout", &cfg.WriteTimeout},
		{decoded.ReadTimeout, "read_timeout", &cfg.ReadTimeout},
		{decoded.LaunchTimeout, "launch_timeout", &cfg.LaunchTimeout},
		{decoded.HeartbeatInterval, "heartbeat_interval", &cfg.HeartbeatInterval},
	}

	for _, override := range overrides {
		if override.value == nil {
			continue
		}
		parsed, err := parseDuration(*override.value, override.key, path)
		if err != nil {
			return err
		}
		if parsed > 0 {
			*override.out = parsed
		}
	}

	return nil
}

func applyLogOverrides(cfg *Config, decoded fileConfig) {
	if decoded.LogMaxSizeMB != nil && *decoded.LogMaxSizeMB > 0 {
		cfg.LogMaxSizeBytes = int64(*decoded.LogMaxSizeMB) * 1024 * 1024
	}
	if decoded.LogMaxFiles != nil && *decoded.LogMaxFiles > 0 {
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("max_response_bytes must be positive, got %d", c.MaxResponseBytes)
	}
	return nil
}

// ResolveAgentScript returns the absolute assistant entry point path.
//
// Relative paths are anchored at InstallDir; when InstallDir is empty the
// directory containing the running executable is used, mirroring how the
// word processor resolves bundled assistant scripts.
func (c *Config) ResolveAgentScript() (string, error) {
	if c == nil {
		return "", errors.New("config must not be nil")
	}
	script := strings.TrimSpace(c.AgentScript)
	if script == "" {
		return "", errors.New("agent_script is not configured")
	}
	if filepath.IsAbs(script) {
		return filepath.Clean(script), nil
	}

	base := strings.TrimSpace(c.InstallDir)
	if base == "" {
		executable, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolve executable path: %w", err)
		}
		base = filepath.Dir(executable)
	}
	return filepath.Join(base, script), nil
}
