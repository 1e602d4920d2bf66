package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every env var the loader consults so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		if s.alias != "" {
			t.Setenv(s.alias, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBOT_LLM_API_KEY", "test-key")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.LLM.ChatModel != "gpt-4o" {
		t.Errorf("LLM.ChatModel = %q, want %q", cfg.LLM.ChatModel, "gpt-4o")
	}
	if cfg.LLM.EmbedDimensions != 1024 {
		t.Errorf("LLM.EmbedDimensions = %d, want 1024", cfg.LLM.EmbedDimensions)
	}
	if cfg.Vector.Index != "ai-chatbot" || cfg.Vector.Namespace != "test" {
		t.Errorf("Vector = %+v, want index ai-chatbot namespace test", cfg.Vector)
	}
	if cfg.Retrieval.K != 8 || cfg.Retrieval.FetchK != 24 || cfg.Retrieval.Lambda != 0.6 {
		t.Errorf("Retrieval = %+v, want k=8 fetch_k=24 lambda=0.6", cfg.Retrieval)
	}
	if cfg.Ingest.ChunkSize != 1200 || cfg.Ingest.ChunkOverlap != 200 {
		t.Errorf("Ingest chunking = %d/%d, want 1200/200", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("Session.MaxTurns = %d, want 20", cfg.Session.MaxTurns)
	}
	if cfg.Retrieval.CompressionTimeout != 20*time.Second {
		t.Errorf("Retrieval.CompressionTimeout = %v, want 20s", cfg.Retrieval.CompressionTimeout)
	}
}

func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBOT_LLM_API_KEY", "test-key")

	content := `
server:
  port: 9000
  mcp_stdio: true
llm:
  chat_model: gpt-4o-mini
  temperature: 0.2
  timeout: 90s
vector:
  backend: chromem
  namespace: hr
retrieval:
  k: 4
  fetch_k: 12
  compression: false
ingest:
  include: "*.pdf,*.md"
`
	cfg, err := loadWith(newFileBackend(writeTempConfig(t, content)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if !cfg.Server.MCPStdio {
		t.Error("Server.MCPStdio = false, want true")
	}
	if cfg.LLM.ChatModel != "gpt-4o-mini" {
		t.Errorf("LLM.ChatModel = %q", cfg.LLM.ChatModel)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("LLM.Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout != 90*time.Second {
		t.Errorf("LLM.Timeout = %v, want 90s", cfg.LLM.Timeout)
	}
	if cfg.Vector.Backend != "chromem" || cfg.Vector.Namespace != "hr" {
		t.Errorf("Vector = %+v", cfg.Vector)
	}
	if cfg.Retrieval.K != 4 || cfg.Retrieval.FetchK != 12 || cfg.Retrieval.Compression {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	if got := Patterns(cfg.Ingest.Include); len(got) != 2 || got[1] != "*.md" {
		t.Errorf("Patterns(Include) = %v", got)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBOT_LLM_API_KEY", "test-key")
	t.Setenv("DOCBOT_RETRIEVAL_K", "6")
	t.Setenv("DOCBOT_VECTOR_NAMESPACE", "prod")

	path := writeTempConfig(t, "retrieval:\n  k: 4\nvector:\n  namespace: hr\n")
	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.K != 6 {
		t.Errorf("Retrieval.K = %d, want 6", cfg.Retrieval.K)
	}
	if cfg.Vector.Namespace != "prod" {
		t.Errorf("Vector.Namespace = %q, want %q", cfg.Vector.Namespace, "prod")
	}
}

func TestEnvAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "alias-key")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "alias-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "alias-key")
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)

	path := writeTempConfig(t, "llm:\n  api_key: from-file\n")
	_, err := loadWith(newFileBackend(path))
	if err == nil {
		t.Fatal("expected missing API key error, got nil")
	}
}

func TestMissingRequiredConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "openai key",
			env:  map[string]string{},
			want: "missing required config: openai API key",
		},
		{
			name: "pinecone host",
			env: map[string]string{
				"DOCBOT_LLM_API_KEY":    "k",
				"DOCBOT_VECTOR_BACKEND": "pinecone",
				"DOCBOT_VECTOR_API_KEY": "p",
			},
			want: "missing required config: vector.url",
		},
		{
			name: "qdrant url",
			env: map[string]string{
				"DOCBOT_LLM_PROVIDER":   "ollama",
				"DOCBOT_VECTOR_BACKEND": "qdrant",
			},
			want: "missing required config: vector.url for qdrant",
		},
		{
			name: "overlap too large",
			env: map[string]string{
				"DOCBOT_LLM_PROVIDER":         "ollama",
				"DOCBOT_INGEST_CHUNK_OVERLAP": "1200",
			},
			want: "ingest.chunk_overlap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(newFileBackend(writeTempConfig(t, "")))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestOllamaNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBOT_LLM_PROVIDER", "ollama")

	if _, err := loadWith(newFileBackend(writeTempConfig(t, ""))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBadEnvValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBOT_LLM_API_KEY", "k")
	t.Setenv("DOCBOT_RETRIEVAL_LAMBDA", "not-a-float")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.Lambda != 0.6 {
		t.Errorf("Retrieval.Lambda = %v, want default 0.6", cfg.Retrieval.Lambda)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCBOT_LLM_API_KEY", "k")
	path := filepath.Join(t.TempDir(), "docbot", "config.yaml")

	if err := setKeyWith(newFileBackend(path), "retrieval.k", "5"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(newFileBackend(path), "retrieval.compression", "false"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Retrieval.K != 5 {
		t.Errorf("Retrieval.K = %d, want 5", cfg.Retrieval.K)
	}
	if cfg.Retrieval.Compression {
		t.Error("Retrieval.Compression = true, want false")
	}
}

func TestSetKeyRejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))

	if err := setKeyWith(b, "llm.api_key", "x"); err == nil || !strings.Contains(err.Error(), "cannot set secret") {
		t.Errorf("secret key error = %v", err)
	}
	if err := setKeyWith(b, "retrieval.k", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKeyWith(b, "no.such.key", "1"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unknown key error = %v", err)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-secret") {
			t.Fatalf("ShowAll leaked secret under %s", ki.Key)
		}
	}
}
