package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServer  = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

// Profile is the on-disk CLI configuration, ~/.peerhub/config.yaml by default.
type Profile struct {
	Server     string        `yaml:"server"`
	Timeout    time.Duration `yaml:"timeout"`
	SessionDir string        `yaml:"session_dir"`
	CacheDir   string        `yaml:"cache_dir"`
}

// HomeDir returns ~/.peerhub.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".peerhub"), nil
}

// Load reads a profile from path. A missing file yields an empty profile.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &p, nil
}

// Save writes the profile to path, creating the parent directory.
func (p *Profile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge returns a profile where every non-zero field of override wins over p,
// and anything still unset falls back to defaults rooted at baseDir.
func (p *Profile) Merge(override Profile, baseDir string) Profile {
	out := *p

	if override.Server != "" {
		out.Server = override.Server
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.SessionDir != "" {
		out.SessionDir = override.SessionDir
	}
	if override.CacheDir != "" {
		out.CacheDir = override.CacheDir
	}

	if out.Server == "" {
		out.Server = DefaultServer
	}
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.SessionDir == "" {
		out.SessionDir = filepath.Join(baseDir, "session")
	}

	return out
}
