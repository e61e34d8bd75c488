// Package config loads opdag settings from YAML files and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the name of a config file, both per user and per repository.
const FileName = "config.yaml"

type Config struct {
	User      UserConfig      `yaml:"user"`
	Operation OperationConfig `yaml:"operation"`
	UI        UIConfig        `yaml:"ui"`
	Storage   StorageConfig   `yaml:"storage"`
	Git       GitConfig       `yaml:"git"`
	Log       LogConfig       `yaml:"log"`
	FUSE      FUSEConfig      `yaml:"fuse"`
}

type UserConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// OperationConfig sets the host and user recorded on operations.
type OperationConfig struct {
	Hostname string `yaml:"hostname"`
	Username string `yaml:"username"`
}

type UIConfig struct {
	Editor             string `yaml:"editor"`
	DefaultDescription string `yaml:"default_description"`
}

type StorageConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// GitConfig controls mirroring of a colocated git repository's refs.
type GitConfig struct {
	Colocate bool   `yaml:"colocate"`
	Path     string `yaml:"path"` // Relative to the repository root if not absolute
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type FUSEConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the settings used when no file or variable overrides them.
func Default() *Config {
	cfg := &Config{
		UI:      UIConfig{Editor: "vi"},
		Storage: StorageConfig{CacheSize: 1024},
		Git:     GitConfig{Colocate: true, Path: "."},
		Log:     LogConfig{Level: "warn"},
	}
	if h, err := os.Hostname(); err == nil {
		cfg.Operation.Hostname = h
	}
	if u, err := user.Current(); err == nil {
		cfg.Operation.Username = u.Username
	}
	if e := os.Getenv("EDITOR"); e != "" {
		cfg.UI.Editor = e
	}
	return cfg
}

// Load reads the file at path over the defaults. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := loadYAMLFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadForRepo layers the user config, the repository's config under
// metaDir and the OPDAG_* environment variables over the defaults. Either
// argument may be empty to skip that layer.
func LoadForRepo(userPath, metaDir string) (*Config, error) {
	cfg := Default()
	if userPath != "" {
		if err := loadYAMLFile(userPath, cfg); err != nil {
			return nil, fmt.Errorf("user config: %w", err)
		}
	}
	if metaDir != "" {
		if err := loadYAMLFile(filepath.Join(metaDir, FileName), cfg); err != nil {
			return nil, fmt.Errorf("repo config: %w", err)
		}
	}
	cfg.applyEnvironment()
	return cfg, nil
}

// UserPath returns the per-user config file location.
func UserPath() string {
	if p := os.Getenv("OPDAG_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "opdag", FileName)
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("OPDAG_USER"); v != "" {
		c.User.Name = v
	}
	if v := os.Getenv("OPDAG_EMAIL"); v != "" {
		c.User.Email = v
	}
	if v := os.Getenv("OPDAG_HOSTNAME"); v != "" {
		c.Operation.Hostname = v
	}
	if v := os.Getenv("OPDAG_USERNAME"); v != "" {
		c.Operation.Username = v
	}
	if v := os.Getenv("OPDAG_EDITOR"); v != "" {
		c.UI.Editor = v
	}
	if v := os.Getenv("OPDAG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// LogLevel parses Log.Level. Unknown levels fall back to warn.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return slog.LevelWarn
	}
	return level
}

// GitPath resolves Git.Path against the repository root.
func (c *Config) GitPath(repoRoot string) string {
	if filepath.IsAbs(c.Git.Path) {
		return c.Git.Path
	}
	return filepath.Join(repoRoot, c.Git.Path)
}
