package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Vector    VectorConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Session   SessionConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	Bind     string
	APIToken string
	MCPStdio bool
}

type LLMConfig struct {
	Provider            string // "openai", "ollama", "gemini"
	BaseURL             string
	APIKey              string
	ChatModel           string
	EmbedModel          string
	EmbedDimensions     int
	Temperature         float64
	CreativeTemperature float64
	RequestsPerSecond   float64
	Timeout             time.Duration
}

type VectorConfig struct {
	Backend   string // "sqlite", "chromem", "qdrant", "pinecone"
	Index     string
	Namespace string
	URL       string
	APIKey    string
}

type RetrievalConfig struct {
	K                  int
	FetchK             int
	Lambda             float64
	Compression        bool
	CompressionTimeout time.Duration
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Folder       string
	Include      string // comma-separated doublestar patterns
	Exclude      string
	Watch        bool
	MaxAttempts  int
}

type SessionConfig struct {
	Backend  string // "memory", "bolt"
	MaxTurns int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

// Patterns splits a comma-separated pattern list, dropping blanks.
func Patterns(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
			Bind: "127.0.0.1",
		},
		LLM: LLMConfig{
			Provider:            "openai",
			BaseURL:             "https://api.openai.com/v1",
			ChatModel:           "gpt-4o",
			EmbedModel:          "text-embedding-3-small",
			EmbedDimensions:     1024,
			Temperature:         0,
			CreativeTemperature: 0.7,
			RequestsPerSecond:   10,
			Timeout:             60 * time.Second,
		},
		Vector: VectorConfig{
			Backend:   "sqlite",
			Index:     "ai-chatbot",
			Namespace: "test",
		},
		Retrieval: RetrievalConfig{
			K:                  8,
			FetchK:             24,
			Lambda:             0.6,
			Compression:        true,
			CompressionTimeout: 20 * time.Second,
		},
		Ingest: IngestConfig{
			ChunkSize:    1200,
			ChunkOverlap: 200,
			Folder:       "Docs/",
			Include:      "*.pdf",
			MaxAttempts:  3,
		},
		Session: SessionConfig{
			Backend:  "memory",
			MaxTurns: 20,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "docbot-data"
		}
	}
	return filepath.Join(dir, "docbot")
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/docbot/config.yaml, then a .env file in the working
// directory, then DOCBOT_* environment variables. Later sources win.
//
// Secrets are never read from the file; they come from the environment
// (or .env) only.
func Load() (Config, error) {
	// Missing .env is the normal case. Existing env vars are not overridden.
	_ = godotenv.Load()
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var errs []error

	switch cfg.LLM.Provider {
	case "openai", "gemini":
		if cfg.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("missing required config: %s API key. Set it via environment variable DOCBOT_LLM_API_KEY", cfg.LLM.Provider))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("invalid config: llm.provider %q (want openai, ollama or gemini)", cfg.LLM.Provider))
	}

	if cfg.Vector.Index == "" {
		errs = append(errs, errors.New("missing required config: vector.index"))
	}
	if cfg.Vector.Namespace == "" {
		errs = append(errs, errors.New("missing required config: vector.namespace"))
	}
	switch cfg.Vector.Backend {
	case "sqlite", "chromem":
	case "qdrant":
		if cfg.Vector.URL == "" {
			errs = append(errs, errors.New("missing required config: vector.url for qdrant"))
		}
	case "pinecone":
		if cfg.Vector.URL == "" {
			errs = append(errs, errors.New("missing required config: vector.url (pinecone index host)"))
		}
		if cfg.Vector.APIKey == "" {
			errs = append(errs, errors.New("missing required config: pinecone API key. Set it via environment variable DOCBOT_VECTOR_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid config: vector.backend %q", cfg.Vector.Backend))
	}

	if cfg.Retrieval.K <= 0 || cfg.Retrieval.FetchK < cfg.Retrieval.K {
		errs = append(errs, fmt.Errorf("invalid config: retrieval.k=%d must be positive and not exceed retrieval.fetch_k=%d", cfg.Retrieval.K, cfg.Retrieval.FetchK))
	}
	if cfg.Retrieval.Lambda < 0 || cfg.Retrieval.Lambda > 1 {
		errs = append(errs, fmt.Errorf("invalid config: retrieval.lambda=%v must be within [0,1]", cfg.Retrieval.Lambda))
	}
	if cfg.Ingest.ChunkSize <= 0 || cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("invalid config: ingest.chunk_overlap=%d must be below ingest.chunk_size=%d", cfg.Ingest.ChunkOverlap, cfg.Ingest.ChunkSize))
	}
	switch cfg.Session.Backend {
	case "memory", "bolt":
	default:
		errs = append(errs, fmt.Errorf("invalid config: session.backend %q", cfg.Session.Backend))
	}

	return errors.Join(errs...)
}
