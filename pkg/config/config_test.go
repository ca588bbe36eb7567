package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.DefaultBackend(); got != "n8n" {
		t.Fatalf("cfg.DefaultBackend() = %q, want n8n", got)
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
}

func TestLoad_ParsesBackendsSection(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".asistia")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	raw := "" +
		"server:\n" +
		"  host: 0.0.0.0\n" +
		"  port: 9090\n" +
		"backends:\n" +
		"  default: python\n" +
		"  python:\n" +
		"    base_url: http://rag.internal:5000/\n" +
		"  n8n:\n" +
		"    use_prod: true\n" +
		"    gemini:\n" +
		"      prod:\n" +
		"        webhook: https://hooks.example.com/webhook/abc\n"
	if err := os.WriteFile(configPath, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q, want %q", got, "0.0.0.0")
	}
	if got := cfg.Port(); got != 9090 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 9090)
	}
	if got := cfg.DefaultBackend(); got != "python" {
		t.Fatalf("cfg.DefaultBackend() = %q, want python", got)
	}
	if got := cfg.PythonBaseURL(); got != "http://rag.internal:5000" {
		t.Fatalf("cfg.PythonBaseURL() = %q", got)
	}
	if !cfg.N8nUseProd() {
		t.Fatalf("cfg.N8nUseProd() = false, want true")
	}
	if got := cfg.N8nWebhookURL("gemini"); got != "https://hooks.example.com/webhook/abc" {
		t.Fatalf("cfg.N8nWebhookURL(gemini) = %q", got)
	}
}

func TestLoad_RejectsUnknownDefaultBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".asistia")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("backends:\n  default: ollama\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backends.default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PYTHON_API_URL", "http://localhost:7000")
	t.Setenv("ACTIVE_BACKEND", "python")
	t.Setenv("N8N_USE_PROD", "true")
	t.Setenv("N8N_PROD_WEBHOOK_URL_OPENAI", "https://hooks.example.com/webhook/oai")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.PythonBaseURL(); got != "http://localhost:7000" {
		t.Fatalf("cfg.PythonBaseURL() = %q", got)
	}
	if got := cfg.DefaultBackend(); got != "python" {
		t.Fatalf("cfg.DefaultBackend() = %q, want python", got)
	}
	if got := cfg.N8nWebhookURL("openai"); got != "https://hooks.example.com/webhook/oai" {
		t.Fatalf("cfg.N8nWebhookURL(openai) = %q", got)
	}
}
