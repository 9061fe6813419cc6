// Package config loads and persists the orchestrator's configuration
// file: a projects list plus a settings block (spec §6). Adapted from
// the teacher's own hub config package, which layers file config under
// environment overrides the same way; generalized from a single-hub
// token/worktree shape to this spec's project-list/settings shape.
//
// Configuration is loaded from:
//  1. $XDG_CONFIG_HOME/opman/config.json, falling back to
//     $HOME/.config/opman/config.json
//  2. Environment variables (override file values)
//
// Environment variables:
//   - OPMAN_BACKEND_URL: backend base URL
//   - OPMAN_BACKEND_TOKEN: backend auth token (never persisted to disk)
//   - OPMAN_DEFAULT_TERMINAL: default terminal command
//   - OPMAN_CONFIG_DIR: override config directory (for testing)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ProjectEntry is one configured project: a name, an absolute path,
// and an optional per-project terminal command override.
type ProjectEntry struct {
	Name            string `json:"name"`
	Path            string `json:"path"`
	TerminalCommand string `json:"terminal_command,omitempty"`
}

// Settings is the global settings block (spec §6).
type Settings struct {
	DefaultTerminalCommand string            `json:"default_terminal_command"`
	FollowEditsInEditor    bool              `json:"follow_edits_in_editor"`
	Keybindings            map[string]string `json:"keybindings,omitempty"`
}

// Config is the full persisted configuration document.
type Config struct {
	BackendURL string         `json:"backend_url"`
	// BackendToken authenticates the backend HTTP/SSE client. Normally
	// supplied via OPMAN_BACKEND_TOKEN rather than persisted to disk.
	BackendToken string         `json:"-"`
	Projects     []ProjectEntry `json:"projects"`
	Settings     Settings       `json:"settings"`

	path string // resolved location this was loaded from/will save to
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BackendURL: "http://localhost:4096",
		Settings: Settings{
			DefaultTerminalCommand: os.Getenv("SHELL"),
			FollowEditsInEditor:    true,
		},
	}
}

// Dir returns the configuration directory path, creating it if
// necessary. Respects OPMAN_CONFIG_DIR (for testing), then
// $XDG_CONFIG_HOME, then $HOME/.config.
func Dir() (string, error) {
	if testDir := os.Getenv("OPMAN_CONFIG_DIR"); testDir != "" {
		if err := os.MkdirAll(testDir, 0o700); err != nil {
			return "", fmt.Errorf("config: could not create config directory: %w", err)
		}
		return testDir, nil
	}

	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, "opman")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: could not determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".config", "opman")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: could not create config directory: %w", err)
	}
	return dir, nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from file and applies environment variable
// overrides. Priority: environment variables > config file > defaults.
// Failure to read an existing-but-corrupt config file is the one
// startup-fatal condition named in spec §7.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No config yet: defaults stand, not an error.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.path = path
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("OPMAN_BACKEND_URL"); url != "" {
		c.BackendURL = url
	}
	if cmd := os.Getenv("OPMAN_DEFAULT_TERMINAL"); cmd != "" {
		c.Settings.DefaultTerminalCommand = cmd
	}
	if token := os.Getenv("OPMAN_BACKEND_TOKEN"); token != "" {
		c.BackendToken = token
	}
}

// Save writes configuration to the config file.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: could not create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: could not marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: could not write config file: %w", err)
	}
	return nil
}

// AddProject appends a project entry and persists the config
// (spec §6: "rewritten when projects are added or removed").
func (c *Config) AddProject(entry ProjectEntry) error {
	c.Projects = append(c.Projects, entry)
	return c.Save()
}

// RemoveProject removes the project at path and persists the config.
func (c *Config) RemoveProject(path string) error {
	out := c.Projects[:0]
	for _, p := range c.Projects {
		if p.Path != path {
			out = append(out, p)
		}
	}
	c.Projects = out
	return c.Save()
}

// StateDir resolves $XDG_STATE_HOME (falling back to
// $HOME/.local/state), used for runtime artifacts like the tool
// socket path and per-editor RPC endpoints.
func StateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "opman"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "opman"), nil
}
