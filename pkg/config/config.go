package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods, and
// environment variables override file values for deploy-time settings.
//
// Example (~/.asistia/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// database:
//   sqlite_path: ~/.asistia/asistia.db
// auth:
//   jwt_secret: change-me
// backends:
//   default: n8n
//   n8n:
//     use_prod: false
//     gemini:
//       test:
//         webhook: http://localhost:5678/webhook/rag-chat
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Backends BackendsConfig `yaml:"backends"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type DatabaseConfig struct {
	SQLitePath  *string `yaml:"sqlite_path"`
	PostgresDSN *string `yaml:"postgres_dsn"`
}

type AuthConfig struct {
	JWTSecret     *string `yaml:"jwt_secret"`
	TokenTTLHours *int    `yaml:"token_ttl_hours"`
}

type RedisConfig struct {
	Addr *string `yaml:"addr"`
}

// BackendsConfig selects the default generation backend and holds per-backend
// endpoint configuration. The chat request may still override the backend per
// call; this is only the fallback.
type BackendsConfig struct {
	Default *string      `yaml:"default"`
	N8n     N8nConfig    `yaml:"n8n"`
	Python  PythonConfig `yaml:"python"`
}

// N8nConfig carries one {prod, test} webhook pair per supported model.
type N8nConfig struct {
	UseProd        *bool          `yaml:"use_prod"`
	APIKey         *string        `yaml:"api_key"`
	TimeoutSeconds *int           `yaml:"timeout_seconds"`
	Gemini         ModelEndpoints `yaml:"gemini"`
	OpenAI         ModelEndpoints `yaml:"openai"`
}

type ModelEndpoints struct {
	Prod EndpointPair `yaml:"prod"`
	Test EndpointPair `yaml:"test"`
}

type EndpointPair struct {
	Webhook    *string `yaml:"webhook"`
	FileUpload *string `yaml:"file_upload"`
}

type PythonConfig struct {
	BaseURL *string `yaml:"base_url"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8090

	DefaultBackend = "n8n"

	DefaultUpstreamTimeout = 60 * time.Second
	DefaultTokenTTL        = 72 * time.Hour

	defaultN8nBase    = "http://localhost:5678"
	DefaultPythonBase = "http://localhost:5000"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".asistia")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.asistia/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	if b := cfg.DefaultBackend(); b != "n8n" && b != "python" {
		return nil, "", fmt.Errorf("invalid backends.default %q in %s", b, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)}}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if v := envStr("ASISTIA_HOST"); v != "" {
		return v
	}
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// SQLitePath returns the sqlite database file path. Used only when no postgres
// DSN is configured.
func (c *AppConfig) SQLitePath() string {
	if v := envStr("ASISTIA_DB_PATH"); v != "" {
		return v
	}
	if c != nil && c.Database.SQLitePath != nil && strings.TrimSpace(*c.Database.SQLitePath) != "" {
		return *c.Database.SQLitePath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "asistia.db"
	}
	return filepath.Join(home, ".asistia", "asistia.db")
}

// PostgresDSN returns the postgres connection string, empty when unset.
func (c *AppConfig) PostgresDSN() string {
	if v := envStr("DATABASE_DSN"); v != "" {
		return v
	}
	if c != nil && c.Database.PostgresDSN != nil {
		return strings.TrimSpace(*c.Database.PostgresDSN)
	}
	return ""
}

func (c *AppConfig) JWTSecret() string {
	if v := envStr("ASISTIA_JWT_SECRET"); v != "" {
		return v
	}
	if c != nil && c.Auth.JWTSecret != nil && *c.Auth.JWTSecret != "" {
		return *c.Auth.JWTSecret
	}
	// Development fallback; deployments must override.
	return "asistia-dev-secret"
}

func (c *AppConfig) TokenTTL() time.Duration {
	if c != nil && c.Auth.TokenTTLHours != nil && *c.Auth.TokenTTLHours > 0 {
		return time.Duration(*c.Auth.TokenTTLHours) * time.Hour
	}
	return DefaultTokenTTL
}

func (c *AppConfig) RedisAddr() string {
	if v := envStr("REDIS_ADDR"); v != "" {
		return v
	}
	if c != nil && c.Redis.Addr != nil {
		return strings.TrimSpace(*c.Redis.Addr)
	}
	return ""
}

// DefaultBackend returns the backend used when the request does not name one.
func (c *AppConfig) DefaultBackend() string {
	if v := envStr("ACTIVE_BACKEND"); v == "n8n" || v == "python" {
		return v
	}
	if c != nil && c.Backends.Default != nil && *c.Backends.Default != "" {
		return *c.Backends.Default
	}
	return DefaultBackend
}

// N8nUseProd selects between the production and test webhook of each model.
func (c *AppConfig) N8nUseProd() bool {
	if v := envStr("N8N_USE_PROD"); v != "" {
		return v == "true" || v == "1"
	}
	if c != nil && c.Backends.N8n.UseProd != nil {
		return *c.Backends.N8n.UseProd
	}
	return false
}

func (c *AppConfig) N8nAPIKey() string {
	if v := envStr("N8N_API_KEY"); v != "" {
		return v
	}
	if c != nil && c.Backends.N8n.APIKey != nil {
		return *c.Backends.N8n.APIKey
	}
	return ""
}

// UpstreamTimeout bounds every HTTP call to a generation backend. The relay
// has no other way to cancel a stuck upstream request.
func (c *AppConfig) UpstreamTimeout() time.Duration {
	if c != nil && c.Backends.N8n.TimeoutSeconds != nil && *c.Backends.N8n.TimeoutSeconds > 0 {
		return time.Duration(*c.Backends.N8n.TimeoutSeconds) * time.Second
	}
	return DefaultUpstreamTimeout
}

// N8nWebhookURL resolves the chat webhook for a model: env override first,
// then the config file, then a local n8n default.
func (c *AppConfig) N8nWebhookURL(model string) string {
	pair := c.n8nPair(model)
	envKey := "N8N_TEST_WEBHOOK_URL"
	if c.N8nUseProd() {
		envKey = "N8N_PROD_WEBHOOK_URL"
	}
	if model == "openai" {
		envKey += "_OPENAI"
	}
	if v := envStr(envKey); v != "" {
		return v
	}
	if pair.Webhook != nil && *pair.Webhook != "" {
		return *pair.Webhook
	}
	if model == "openai" {
		return defaultN8nBase + "/webhook/rag-chat-openai"
	}
	return defaultN8nBase + "/webhook/rag-chat"
}

// N8nFileUploadURL resolves the file ingestion form URL for a model.
func (c *AppConfig) N8nFileUploadURL(model string) string {
	pair := c.n8nPair(model)
	envKey := "N8N_TEST_FILE_UPLOAD_URL"
	if c.N8nUseProd() {
		envKey = "N8N_PROD_FILE_UPLOAD_URL"
	}
	if model == "openai" {
		envKey += "_OPENAI"
	}
	if v := envStr(envKey); v != "" {
		return v
	}
	if pair.FileUpload != nil && *pair.FileUpload != "" {
		return *pair.FileUpload
	}
	if model == "openai" {
		return defaultN8nBase + "/form/rag-upload-openai"
	}
	return defaultN8nBase + "/form/rag-upload"
}

// PythonBaseURL returns the base URL of the Python RAG backend.
func (c *AppConfig) PythonBaseURL() string {
	if v := envStr("PYTHON_API_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	if c != nil && c.Backends.Python.BaseURL != nil && *c.Backends.Python.BaseURL != "" {
		return strings.TrimRight(*c.Backends.Python.BaseURL, "/")
	}
	return DefaultPythonBase
}

func (c *AppConfig) n8nPair(model string) EndpointPair {
	if c == nil {
		return EndpointPair{}
	}
	endpoints := c.Backends.N8n.Gemini
	if model == "openai" {
		endpoints = c.Backends.N8n.OpenAI
	}
	if c.N8nUseProd() {
		return endpoints.Prod
	}
	return endpoints.Test
}

func envStr(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func ptr[T any](v T) *T { return &v }
