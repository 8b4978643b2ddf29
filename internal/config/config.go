package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file locations and the HTTP bind address.
type Paths struct {
	ConfigDir  string `toml:"config_dir"`
	ScenesFile string `toml:"scenes_file"`
	StateDir   string `toml:"state_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// HomeAssistant contains the connection used for state snapshots, scene
// entity resolution, and scene reloads.
type HomeAssistant struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Scenes contains the merge and locking policy for the scenes document.
type Scenes struct {
	ExcludeAttributes  []string `toml:"exclude_attributes"`
	AdvisoryLock       bool     `toml:"advisory_lock"`
	LockTimeoutSeconds int      `toml:"lock_timeout_seconds"`
}

// Journal contains configuration for the update history database.
type Journal struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Scene Plus.
//
// Configuration sections by subsystem:
//   - Paths: scenes document location, state directory, API bind address
//   - HomeAssistant: REST API used as state provider and scene resolver
//   - Scenes: attribute exclusion list and advisory locking
//   - Journal: SQLite history of update attempts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	HomeAssistant HomeAssistant `toml:"home_assistant"`
	Scenes        Scenes        `toml:"scenes"`
	Journal       Journal       `toml:"journal"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and environment overrides applied. The string
// result is the resolved path and the boolean reports whether it existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("sceneplus.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory. The scenes directory is
// owned by the host installation and is only checked by Validate.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.StateDir, err)
	}
	if c.Journal.Enabled && c.Journal.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.Journal.Path), 0o755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}
	return nil
}

// ScenesPath returns the absolute path of the scenes document.
func (c *Config) ScenesPath() string {
	return filepath.Join(c.Paths.ConfigDir, c.Paths.ScenesFile)
}

// LogPath returns the daemon log file inside the state directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "sceneplus.log")
}

// SocketPath returns the IPC socket inside the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "sceneplus.sock")
}

// DaemonLockPath returns the single-instance lock file for the daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.StateDir, "sceneplusd.lock")
}

// LockTimeout returns the advisory lock wait as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Scenes.LockTimeoutSeconds) * time.Second
}

// HomeAssistantTimeout returns the REST request timeout as a duration.
func (c *Config) HomeAssistantTimeout() time.Duration {
	return time.Duration(c.HomeAssistant.TimeoutSeconds) * time.Second
}

// JournalRetention returns how long journal rows are kept. Zero keeps everything.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
