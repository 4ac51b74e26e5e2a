package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BIZCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "BIZCHAT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "BIZCHAT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "BIZCHAT_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "BIZCHAT_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BIZCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "proxy.base_url", typ: kString, env: "BIZCHAT_PROXY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.BaseURL },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "BIZCHAT_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.default_model", typ: kString, env: "BIZCHAT_PROXY_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.DefaultModel },
	},
	{
		key: "log.level", typ: kString, env: "BIZCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "retrieval.rag_enabled", typ: kBool, env: "BIZCHAT_RETRIEVAL_RAG_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RAGEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.RAGEnabled },
	},
	{
		key: "retrieval.include_chat_context", typ: kBool, env: "BIZCHAT_RETRIEVAL_INCLUDE_CHAT_CONTEXT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.IncludeChatContext = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.IncludeChatContext },
	},
	{
		key: "retrieval.knowledge_limit", typ: kInt, env: "BIZCHAT_RETRIEVAL_KNOWLEDGE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.KnowledgeLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.KnowledgeLimit },
	},
	{
		key: "retrieval.episodic_limit", typ: kInt, env: "BIZCHAT_RETRIEVAL_EPISODIC_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.EpisodicLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.EpisodicLimit },
	},
	{
		key: "history.token_budget", typ: kInt, env: "BIZCHAT_HISTORY_TOKEN_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.History.TokenBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.History.TokenBudget },
	},
	{
		key: "history.min_turns", typ: kInt, env: "BIZCHAT_HISTORY_MIN_TURNS",
		apply:   func(cfg *Config, v any) { cfg.History.MinTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.History.MinTurns },
	},
	{
		key: "search.provider", typ: kString, env: "BIZCHAT_SEARCH_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Search.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Provider },
	},
	{
		key: "search.searxng_url", typ: kString, env: "BIZCHAT_SEARCH_SEARXNG_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.SearXNGURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.SearXNGURL },
	},
	{
		key: "search.brave_api_key", typ: kString, env: "BIZCHAT_BRAVE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.BraveAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BraveAPIKey },
	},
	{
		key: "search.max_results", typ: kInt, env: "BIZCHAT_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
