package config

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// setupTestEnv creates a temporary config directory and clears override
// env vars. Returns a cleanup function restoring prior state.
func setupTestEnv(t *testing.T) func() {
	t.Helper()

	origConfigDir := os.Getenv("OPMAN_CONFIG_DIR")
	origBackendURL := os.Getenv("OPMAN_BACKEND_URL")
	origTerminal := os.Getenv("OPMAN_DEFAULT_TERMINAL")
	origToken := os.Getenv("OPMAN_BACKEND_TOKEN")

	tmpDir := t.TempDir()
	os.Setenv("OPMAN_CONFIG_DIR", tmpDir)
	os.Unsetenv("OPMAN_BACKEND_URL")
	os.Unsetenv("OPMAN_DEFAULT_TERMINAL")
	os.Unsetenv("OPMAN_BACKEND_TOKEN")

	return func() {
		os.Setenv("OPMAN_CONFIG_DIR", origConfigDir)
		if origBackendURL != "" {
			os.Setenv("OPMAN_BACKEND_URL", origBackendURL)
		}
		if origTerminal != "" {
			os.Setenv("OPMAN_DEFAULT_TERMINAL", origTerminal)
		}
		if origToken != "" {
			os.Setenv("OPMAN_BACKEND_TOKEN", origToken)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BackendURL != "http://localhost:4096" {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, "http://localhost:4096")
	}
	if !cfg.Settings.FollowEditsInEditor {
		t.Errorf("FollowEditsInEditor = false, want true")
	}
	if len(cfg.Projects) != 0 {
		t.Errorf("Projects = %v, want empty", cfg.Projects)
	}
}

func TestConfigSerialization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects = append(cfg.Projects, ProjectEntry{Name: "demo", Path: "/tmp/demo"})

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if loaded.BackendURL != cfg.BackendURL {
		t.Errorf("BackendURL = %q, want %q", loaded.BackendURL, cfg.BackendURL)
	}
	if len(loaded.Projects) != 1 || loaded.Projects[0].Name != "demo" {
		t.Errorf("Projects = %v, want one entry named demo", loaded.Projects)
	}
}

func TestLoadFromFile(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	path, err := Path()
	if err != nil {
		t.Fatalf("Path() failed: %v", err)
	}

	fileConfig := &Config{
		BackendURL: "https://custom.example.com",
		Projects:   []ProjectEntry{{Name: "p1", Path: "/repo/p1"}},
		Settings:   Settings{DefaultTerminalCommand: "/bin/zsh", FollowEditsInEditor: false},
	}
	data, err := json.MarshalIndent(fileConfig, "", "  ")
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BackendURL != "https://custom.example.com" {
		t.Errorf("BackendURL = %q, want %q", cfg.BackendURL, "https://custom.example.com")
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0].Path != "/repo/p1" {
		t.Errorf("Projects = %v, want one entry at /repo/p1", cfg.Projects)
	}
	if cfg.Settings.FollowEditsInEditor {
		t.Errorf("FollowEditsInEditor = true, want false (from file)")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	path, _ := Path()
	fileConfig := &Config{BackendURL: "https://file.example.com"}
	data, _ := json.MarshalIndent(fileConfig, "", "  ")
	os.WriteFile(path, data, 0o600)

	os.Setenv("OPMAN_BACKEND_URL", "https://env.example.com")
	os.Setenv("OPMAN_DEFAULT_TERMINAL", "/bin/fish")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BackendURL != "https://env.example.com" {
		t.Errorf("BackendURL = %q, want env override", cfg.BackendURL)
	}
	if cfg.Settings.DefaultTerminalCommand != "/bin/fish" {
		t.Errorf("DefaultTerminalCommand = %q, want env override", cfg.Settings.DefaultTerminalCommand)
	}
}

func TestBackendTokenFromEnvNeverPersisted(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("OPMAN_BACKEND_TOKEN", "sekret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BackendToken != "sekret" {
		t.Errorf("BackendToken = %q, want %q", cfg.BackendToken, "sekret")
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	raw, err := os.ReadFile(cfg.path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if strings.Contains(string(raw), "sekret") {
		t.Errorf("config file contains the backend token, want it never persisted: %s", raw)
	}
}

func TestLoadWithNoFile(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BackendURL != "http://localhost:4096" {
		t.Errorf("BackendURL = %q, want default", cfg.BackendURL)
	}
}

func TestSaveAndLoad(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg := DefaultConfig()
	cfg.BackendURL = "https://saved.example.com"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.BackendURL != "https://saved.example.com" {
		t.Errorf("BackendURL = %q, want %q", loaded.BackendURL, "https://saved.example.com")
	}
}

func TestAddAndRemoveProject(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg := DefaultConfig()
	if err := cfg.AddProject(ProjectEntry{Name: "demo", Path: "/tmp/demo"}); err != nil {
		t.Fatalf("AddProject() failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(loaded.Projects) != 1 {
		t.Fatalf("Projects = %v, want one entry", loaded.Projects)
	}

	if err := cfg.RemoveProject("/tmp/demo"); err != nil {
		t.Fatalf("RemoveProject() failed: %v", err)
	}
	reloaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(reloaded.Projects) != 0 {
		t.Errorf("Projects = %v, want empty after removal", reloaded.Projects)
	}
}

func TestConfigDirOverride(t *testing.T) {
	tmpDir := t.TempDir()

	os.Setenv("OPMAN_CONFIG_DIR", tmpDir)
	defer os.Unsetenv("OPMAN_CONFIG_DIR")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if dir != tmpDir {
		t.Errorf("Dir() = %q, want %q", dir, tmpDir)
	}
}
