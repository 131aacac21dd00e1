package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdirTemp switches into a fresh temp dir with XDG_CONFIG_HOME pointing inside it.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	return tmpDir
}

func TestGlobalPath(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME set", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		want := "/custom/config/consolewiz/consolewiz.yml"
		if got := GlobalPath(); got != want {
			t.Errorf("GlobalPath() = %v, want %v", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		got := GlobalPath()
		if !filepath.IsAbs(got) {
			t.Errorf("GlobalPath() should return absolute path, got %v", got)
		}
		if filepath.Base(got) != "consolewiz.yml" {
			t.Errorf("GlobalPath() should end with consolewiz.yml, got %v", got)
		}
	})
}

func TestProjectPath(t *testing.T) {
	if got := ProjectPath(); got != "consolewiz.yml" {
		t.Errorf("ProjectPath() = %v, want consolewiz.yml", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DataDir != ".consolewiz" {
		t.Errorf("DataDir = %q, want .consolewiz", cfg.DataDir)
	}
	if cfg.TaskEvent != "task_complete" {
		t.Errorf("TaskEvent = %q, want task_complete", cfg.TaskEvent)
	}
	if cfg.TaskTimeout != 0 {
		t.Errorf("TaskTimeout = %v, want 0", cfg.TaskTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_Precedence(t *testing.T) {
	chdirTemp(t)

	globalPath := GlobalPath()
	if err := os.MkdirAll(filepath.Dir(globalPath), 0755); err != nil {
		t.Fatal(err)
	}
	global := "api_url: http://global:8080\ntask_timeout: 1m\nlog_level: warn\n"
	if err := os.WriteFile(globalPath, []byte(global), 0644); err != nil {
		t.Fatal(err)
	}
	project := "api_url: http://project:8080\npoll_interval: 5s\n"
	if err := os.WriteFile(ProjectPath(), []byte(project), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONSOLEWIZ_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APIURL != "http://project:8080" {
		t.Errorf("project config should override global, got %q", cfg.APIURL)
	}
	if cfg.TaskTimeout != time.Minute {
		t.Errorf("TaskTimeout = %v, want 1m from global config", cfg.TaskTimeout)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("env should override files, got %q", cfg.LogLevel)
	}
}

func TestExists(t *testing.T) {
	chdirTemp(t)

	if Exists() {
		t.Fatal("Exists() = true, want false when no config files exist")
	}
	if err := WriteProject(Defaults()); err != nil {
		t.Fatalf("WriteProject failed: %v", err)
	}
	if !Exists() {
		t.Error("Exists() = false, want true after WriteProject")
	}
}

func TestWriteGlobal_RoundTrip(t *testing.T) {
	chdirTemp(t)

	cfg := Defaults()
	cfg.APIURL = "https://console.example.com"
	cfg.APIToken = "secret"
	cfg.TaskTimeout = 90 * time.Second

	if err := WriteGlobal(cfg); err != nil {
		t.Fatalf("WriteGlobal failed: %v", err)
	}

	info, err := os.Stat(GlobalPath())
	if err != nil {
		t.Fatalf("global config not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.APIURL != cfg.APIURL || loaded.APIToken != "secret" {
		t.Errorf("loaded config mismatch: %+v", loaded)
	}
	if loaded.TaskTimeout != cfg.TaskTimeout {
		t.Errorf("TaskTimeout = %v, want %v", loaded.TaskTimeout, cfg.TaskTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"relative api url", func(c *Config) { c.APIURL = "/api" }, true},
		{"empty task event", func(c *Config) { c.TaskEvent = "" }, true},
		{"negative timeout", func(c *Config) { c.TaskTimeout = -time.Second }, true},
		{"negative poll interval", func(c *Config) { c.PollInterval = -time.Second }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"remote nats", func(c *Config) { c.NATSURL = "nats://localhost:4222" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
