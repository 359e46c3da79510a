package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	t.Chdir(dir)

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	if cfg.Autosave.QuietPeriod != 2*time.Second {
		t.Errorf("quiet period = %v", cfg.Autosave.QuietPeriod)
	}
	if cfg.AI.Temperature != 0.7 || cfg.AI.TopK != 40 || cfg.AI.TopP != 0.95 || cfg.AI.MaxOutputTokens != 1024 {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.Store.Path != filepath.Join(dir, "quill", "notes.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "conf", "quill.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("second WriteDefault should refuse to overwrite")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "[autosave]") || !strings.Contains(string(data), `quiet_period = "2s"`) {
		t.Errorf("unexpected file:\n%s", data)
	}

	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Cache.CoalesceWindow != 100*time.Millisecond {
		t.Errorf("coalesce window = %v", cfg.Cache.CoalesceWindow)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.toml")
	content := `owner = "alice"

[autosave]
quiet_period = "500ms"

[ai]
provider = "none"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv("QUILL_AI_TOP_K", "10")
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Owner != "alice" || cfg.Autosave.QuietPeriod != 500*time.Millisecond {
		t.Errorf("owner/quiet = %q/%v", cfg.Owner, cfg.Autosave.QuietPeriod)
	}
	if cfg.AI.Provider != "none" || cfg.AI.TopK != 10 {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.AI.APIKey != "from-env" {
		t.Errorf("api key = %q", cfg.AI.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Store: StoreConfig{Path: "notes.db"},
			AI:    AIConfig{Provider: "none", Temperature: 0.7, TopP: 0.95, TopK: 40, MaxOutputTokens: 1024},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"negative quiet period", func(c *Config) { c.Autosave.QuietPeriod = -time.Second }, "autosave.quiet_period"},
		{"temperature too high", func(c *Config) { c.AI.Temperature = 1.5 }, "ai.temperature"},
		{"zero top_p", func(c *Config) { c.AI.TopP = 0 }, "ai.top_p"},
		{"unknown provider", func(c *Config) { c.AI.Provider = "gemini" }, "ai.provider"},
		{"no store", func(c *Config) { c.Store.Path = "" }, "store.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
