package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	alias   string // secondary env var, consulted when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.bind", typ: kString, env: "DOCBOT_SERVER_BIND",
		apply:   func(cfg *Config, v any) { cfg.Server.Bind = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Bind },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCBOT_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "server.mcp_stdio", typ: kBool, env: "DOCBOT_SERVER_MCP_STDIO",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPStdio = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPStdio },
	},
	{
		key: "llm.provider", typ: kString, env: "DOCBOT_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "DOCBOT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "DOCBOT_LLM_API_KEY", alias: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.chat_model", typ: kString, env: "DOCBOT_LLM_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ChatModel },
	},
	{
		key: "llm.embed_model", typ: kString, env: "DOCBOT_LLM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "llm.embed_dimensions", typ: kInt, env: "DOCBOT_LLM_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedDimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedDimensions },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "DOCBOT_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.creative_temperature", typ: kFloat, env: "DOCBOT_LLM_CREATIVE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.CreativeTemperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.CreativeTemperature },
	},
	{
		key: "llm.requests_per_second", typ: kFloat, env: "DOCBOT_LLM_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.LLM.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.RequestsPerSecond },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "DOCBOT_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "vector.backend", typ: kString, env: "DOCBOT_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Backend },
	},
	{
		key: "vector.index", typ: kString, env: "DOCBOT_VECTOR_INDEX", alias: "PINECONE_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Vector.Index = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Index },
	},
	{
		key: "vector.namespace", typ: kString, env: "DOCBOT_VECTOR_NAMESPACE", alias: "PINECONE_NAMESPACE",
		apply:   func(cfg *Config, v any) { cfg.Vector.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.Namespace },
	},
	{
		key: "vector.url", typ: kString, env: "DOCBOT_VECTOR_URL",
		apply:   func(cfg *Config, v any) { cfg.Vector.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.URL },
	},
	{
		key: "vector.api_key", typ: kString, env: "DOCBOT_VECTOR_API_KEY", alias: "PINECONE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Vector.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Vector.APIKey },
	},
	{
		key: "retrieval.k", typ: kInt, env: "DOCBOT_RETRIEVAL_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.K = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.K },
	},
	{
		key: "retrieval.fetch_k", typ: kInt, env: "DOCBOT_RETRIEVAL_FETCH_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.FetchK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.FetchK },
	},
	{
		key: "retrieval.lambda", typ: kFloat, env: "DOCBOT_RETRIEVAL_LAMBDA",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Lambda = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Lambda },
	},
	{
		key: "retrieval.compression", typ: kBool, env: "DOCBOT_RETRIEVAL_COMPRESSION",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Compression = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.Compression },
	},
	{
		key: "retrieval.compression_timeout", typ: kDuration, env: "DOCBOT_RETRIEVAL_COMPRESSION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CompressionTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retrieval.CompressionTimeout },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "DOCBOT_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "DOCBOT_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.folder", typ: kString, env: "DOCBOT_INGEST_FOLDER",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Folder = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Folder },
	},
	{
		key: "ingest.include", typ: kString, env: "DOCBOT_INGEST_INCLUDE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Include = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Include },
	},
	{
		key: "ingest.exclude", typ: kString, env: "DOCBOT_INGEST_EXCLUDE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Exclude = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Exclude },
	},
	{
		key: "ingest.watch", typ: kBool, env: "DOCBOT_INGEST_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.Watch },
	},
	{
		key: "ingest.max_attempts", typ: kInt, env: "DOCBOT_INGEST_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxAttempts },
	},
	{
		key: "session.backend", typ: kString, env: "DOCBOT_SESSION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Session.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Backend },
	},
	{
		key: "session.max_turns", typ: kInt, env: "DOCBOT_SESSION_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxTurns },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DOCBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "DOCBOT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parseValue converts raw text to the Go type of a key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name := s.env
		raw := os.Getenv(name)
		if raw == "" && s.alias != "" {
			name = s.alias
			raw = os.Getenv(name)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
