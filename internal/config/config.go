package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider   string `yaml:"llm_provider"`
	LLMModel      string `yaml:"llm_model"`
	OllamaURL     string `yaml:"ollama_url"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	ContextWindow int    `yaml:"context_window"`

	EmbeddingProvider  string `yaml:"embedding_provider"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`

	DatabasePath string `yaml:"database_path"`
	SampleColumn string `yaml:"sample_column"`
	TopK         int    `yaml:"top_k"`

	HTTPPort     string `yaml:"http_port"`
	LogLevel     string `yaml:"log_level"`
	Verbose      bool   `yaml:"verbose"`
	PrintResults bool   `yaml:"print_results"`
}

// Defaults mirror the single-user CLI setup: a local Ollama model and the GHO indicators database.
func Defaults() Config {
	return Config{
		LLMProvider:        "ollama",
		OllamaURL:          "http://localhost:11434",
		ContextWindow:      16384,
		EmbeddingProvider:  "local",
		EmbeddingDimension: 384,
		DatabasePath:       "data/gho.db",
		SampleColumn:       "value",
		TopK:               10,
		HTTPPort:           "8080",
		LogLevel:           "INFO",
	}
}

// LoadConfig is Load followed by Validate.
func LoadConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds the configuration from defaults, an optional YAML file named by SQLRAG_CONFIG,
// a .env file and the process environment, in that order of increasing precedence. It does not
// validate, so callers can apply further overrides first.
func Load() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := Defaults()
	if path := getEnv("SQLRAG_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LLMProvider = getEnv("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.OllamaURL = getEnv("OLLAMA_URL", cfg.OllamaURL)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.ContextWindow = getEnvAsInt("CONTEXT_WINDOW", cfg.ContextWindow)

	cfg.EmbeddingProvider = getEnv("EMBEDDING_PROVIDER", cfg.EmbeddingProvider)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingDimension = getEnvAsInt("EMBEDDING_DIMENSION", cfg.EmbeddingDimension)

	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.SampleColumn = getEnv("SAMPLE_COLUMN", cfg.SampleColumn)
	cfg.TopK = getEnvAsInt("TOP_K", cfg.TopK)

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Verbose = getEnvAsBool("VERBOSE", cfg.Verbose)
	cfg.PrintResults = getEnvAsBool("PRINT_RESULTS", cfg.PrintResults)
}

// Validate normalizes provider names, fills the per-provider model default and checks credentials.
func (c *Config) Validate() error {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.EmbeddingProvider))

	if c.LLMModel == "" {
		c.LLMModel = DefaultModel(c.LLMProvider)
	}

	switch c.LLMProvider {
	case "ollama":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for the gemini provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (want ollama, gemini or openai)", c.LLMProvider)
	}

	switch c.EmbeddingProvider {
	case "local", "ollama":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for gemini embeddings")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required for openai embeddings")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q (want local, ollama, gemini or openai)", c.EmbeddingProvider)
	}

	if c.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be positive, got %d", c.ContextWindow)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}
	return nil
}

func DefaultModel(provider string) string {
	switch provider {
	case "gemini":
		return "gemini-1.5-flash"
	case "openai":
		return "gpt-4o-mini"
	default:
		return "phi4"
	}
}

func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "DEBUG")
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
