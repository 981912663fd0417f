package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LLMProvider != "ollama" {
		t.Fatalf("LLMProvider = %q", cfg.LLMProvider)
	}
	if cfg.LLMModel != "phi4" {
		t.Fatalf("LLMModel = %q", cfg.LLMModel)
	}
	if cfg.DatabasePath != "data/gho.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.ContextWindow != 16384 {
		t.Fatalf("ContextWindow = %d", cfg.ContextWindow)
	}
	if cfg.TopK != 10 {
		t.Fatalf("TopK = %d", cfg.TopK)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	clearEnv(t)
	path := filepath.Join(dir, "sqlrag.yaml")
	content := "llm_provider: gemini\ngemini_api_key: file-key\ndatabase_path: from-file.db\ntop_k: 3\nsample_column: country\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SQLRAG_CONFIG", path)
	t.Setenv("DATABASE_PATH", "from-env.db")
	t.Setenv("VERBOSE", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LLMProvider != "gemini" || cfg.GeminiAPIKey != "file-key" {
		t.Fatalf("provider = %q key = %q", cfg.LLMProvider, cfg.GeminiAPIKey)
	}
	if cfg.LLMModel != "gemini-1.5-flash" {
		t.Fatalf("LLMModel = %q", cfg.LLMModel)
	}
	if cfg.DatabasePath != "from-env.db" {
		t.Fatalf("DatabasePath = %q, env should win over file", cfg.DatabasePath)
	}
	if cfg.TopK != 3 || cfg.SampleColumn != "country" {
		t.Fatalf("TopK = %d SampleColumn = %q", cfg.TopK, cfg.SampleColumn)
	}
	if !cfg.Verbose {
		t.Fatal("Verbose should be true")
	}
}

func TestLoadDefersValidation(t *testing.T) {
	t.Chdir(t.TempDir())
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "gemini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("LLMProvider = %q", cfg.LLMProvider)
	}
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("LoadConfig() error = %v, want missing key", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SQLRAG_CONFIG", "LLM_PROVIDER", "LLM_MODEL", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"EMBEDDING_PROVIDER", "DATABASE_PATH", "SAMPLE_COLUMN", "TOP_K", "CONTEXT_WINDOW", "VERBOSE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "gemini without key", mutate: func(c *Config) { c.LLMProvider = "gemini" }, wantErr: "GEMINI_API_KEY"},
		{name: "openai without key", mutate: func(c *Config) { c.LLMProvider = "openai" }, wantErr: "OPENAI_API_KEY"},
		{name: "openai embeddings without key", mutate: func(c *Config) { c.EmbeddingProvider = "openai" }, wantErr: "OPENAI_API_KEY"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLMProvider = "bard" }, wantErr: "unknown LLM_PROVIDER"},
		{name: "unknown embedder", mutate: func(c *Config) { c.EmbeddingProvider = "word2vec" }, wantErr: "unknown EMBEDDING_PROVIDER"},
		{name: "zero top k", mutate: func(c *Config) { c.TopK = 0 }, wantErr: "TOP_K"},
		{name: "mixed case provider", mutate: func(c *Config) { c.LLMProvider = " OLLAMA " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
