package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const secretService = "bizchat"

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Proxy     ProxyConfig
	Log       LogConfig
	Retrieval RetrievalConfig
	History   HistoryConfig
	Search    SearchConfig
}

type ServerConfig struct {
	Port int
	// APIToken authenticates HTTP clients. Secret.
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ProxyConfig struct {
	BaseURL          string
	OpenRouterAPIKey string
	DefaultModel     string
}

type LogConfig struct {
	Level string
}

type RetrievalConfig struct {
	RAGEnabled         bool
	IncludeChatContext bool
	KnowledgeLimit     int
	EpisodicLimit      int
}

type HistoryConfig struct {
	TokenBudget int
	MinTurns    int
}

type SearchConfig struct {
	Provider    string // "", "searxng" or "brave"
	SearXNGURL  string
	BraveAPIKey string
	MaxResults  int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Proxy: ProxyConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "anthropic/claude-sonnet-4",
		},
		Log: LogConfig{
			Level: "info",
		},
		Retrieval: RetrievalConfig{
			RAGEnabled:         true,
			IncludeChatContext: true,
			KnowledgeLimit:     5,
			EpisodicLimit:      2,
		},
		History: HistoryConfig{
			TokenBudget: 8000,
			MinTurns:    3,
		},
		Search: SearchConfig{
			SearXNGURL: "http://localhost:8888",
			MaxResults: 5,
		},
	}
}

// Load reads configuration from a .env file in the working directory (if
// any), the platform-native backend, environment variables, and the
// platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.bizchat.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/bizchat/config.json
// and secrets come from the environment or $XDG_DATA_HOME/bizchat/secrets.json.
//
// Environment variables (BIZCHAT_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)
	return cfg, nil
}

// applySecrets fills secrets the environment left empty from the platform
// secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// Validate checks what the server and the send command need to talk to the
// model provider.
func (c Config) Validate() error {
	if c.Proxy.OpenRouterAPIKey == "" {
		return fmt.Errorf("missing required config: OpenRouter API key. "+
			"Set it via environment variable BIZCHAT_OPENROUTER_API_KEY%s", apiKeyHint())
	}
	switch c.Search.Provider {
	case "", "searxng":
	case "brave":
		if c.Search.BraveAPIKey == "" {
			return fmt.Errorf("search.provider is brave but BIZCHAT_BRAVE_API_KEY is not set")
		}
	default:
		return fmt.Errorf("unknown search.provider %q", c.Search.Provider)
	}
	return nil
}

// SlogLevel maps log.level to a slog level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
