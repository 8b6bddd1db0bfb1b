// Package config loads livechat settings from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/livechat/internal/db"
	"gopkg.in/yaml.v3"
)

// Provider selects the text generator behind the relay.
type Provider string

const (
	ProviderEcho      Provider = "echo"
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Chat service
	ServerURL        string        `yaml:"server_url"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`

	// Identity and storage. An empty Owner means anonymous, local-only history.
	Owner      string `yaml:"owner"`
	LocalStore string `yaml:"local_store"`

	// SurrealDB connection (remote history)
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Relay
	RelayAddr       string   `yaml:"relay_addr"`
	LLMProvider     Provider `yaml:"llm_provider"`
	LLMModel        string   `yaml:"llm_model"`
	SystemPrompt    string   `yaml:"system_prompt"`
	OllamaHost      string   `yaml:"ollama_host"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	AWSRegion       string   `yaml:"aws_region"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ServerURL:        "ws://localhost:8080/chat",
		ReconnectDelay:   3000 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		ConfirmTimeout:   10 * time.Second,

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "livechat",
		SurrealDBDatabase:  "chat",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		RelayAddr:    ":8080",
		LLMProvider:  ProviderEcho,
		SystemPrompt: "You are a helpful assistant.",
		OllamaHost:   "http://localhost:11434",
		AWSRegion:    "us-east-1",

		LogFile:  "/tmp/livechat.log",
		LogLevel: slog.LevelInfo,
	}
}

// Load reads configuration from environment variables over the defaults.
func Load() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile overlays a YAML file on the defaults, then applies environment
// variables. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := overlayYAML(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// fileConfig adds the fields whose YAML form differs from the Go type.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

func overlayYAML(cfg *Config, data []byte) error {
	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	*cfg = fc.Config
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServerURL = getEnv("LIVECHAT_SERVER_URL", cfg.ServerURL)
	cfg.ReconnectDelay = getDuration("LIVECHAT_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.HandshakeTimeout = getDuration("LIVECHAT_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)
	cfg.ConfirmTimeout = getDuration("LIVECHAT_CONFIRM_TIMEOUT", cfg.ConfirmTimeout)

	cfg.Owner = getEnv("LIVECHAT_OWNER", cfg.Owner)
	cfg.LocalStore = getEnv("LIVECHAT_LOCAL_STORE", cfg.LocalStore)

	cfg.SurrealDBURL = getEnv("SURREALDB_URL", cfg.SurrealDBURL)
	cfg.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", cfg.SurrealDBNamespace)
	cfg.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", cfg.SurrealDBDatabase)
	cfg.SurrealDBUser = getEnv("SURREALDB_USER", cfg.SurrealDBUser)
	cfg.SurrealDBPass = getEnv("SURREALDB_PASS", cfg.SurrealDBPass)
	cfg.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", cfg.SurrealDBAuthLevel)

	cfg.RelayAddr = getEnv("LIVECHAT_RELAY_ADDR", cfg.RelayAddr)
	cfg.LLMProvider = Provider(strings.ToLower(getEnv("LIVECHAT_LLM_PROVIDER", string(cfg.LLMProvider))))
	cfg.LLMModel = getEnv("LIVECHAT_LLM_MODEL", cfg.LLMModel)
	cfg.SystemPrompt = getEnv("LIVECHAT_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)

	cfg.LogFile = getEnv("LIVECHAT_LOG_FILE", cfg.LogFile)
	if lvl := os.Getenv("LIVECHAT_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = parseLogLevel(lvl)
	}
}

// Validate reports settings the client cannot work with.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("server url must be ws:// or wss://, got %q", c.ServerURL)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	return nil
}

// DB returns the SurrealDB settings.
func (c Config) DB() db.Config {
	return db.Config{
		URL:       c.SurrealDBURL,
		Namespace: c.SurrealDBNamespace,
		Database:  c.SurrealDBDatabase,
		Username:  c.SurrealDBUser,
		Password:  c.SurrealDBPass,
		AuthLevel: c.SurrealDBAuthLevel,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration accepts Go durations ("3s") or plain milliseconds ("3000").
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	slog.Warn("ignoring invalid duration", "key", key, "value", val)
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
