package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

type Config struct {
	HTTPPort  string `yaml:"http_port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	LLMProvider          string `yaml:"llm_provider"`
	GeminiAPIKey         string `yaml:"gemini_api_key"`
	GeminiModel          string `yaml:"gemini_model"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIBaseURL        string `yaml:"openai_base_url"`
	OpenAIModel          string `yaml:"openai_model"`
	OllamaBaseURL        string `yaml:"ollama_base_url"`
	OllamaModel          string `yaml:"ollama_model"`
	GenerationTimeoutSec int    `yaml:"generation_timeout_secs"`
	GenerationMaxRetries int    `yaml:"generation_max_retries"`

	EmbeddingDim int `yaml:"embedding_dim"`
	ContextLimit int `yaml:"context_limit"`
	MaxUploadMB  int `yaml:"max_upload_mb"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	DatabaseURL string `yaml:"database_url"` // SQLite archive; empty disables archiving

	RedisAddr          string `yaml:"redis_addr"`
	RedisPassword      string `yaml:"redis_password"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

var AppConfig Config

// LoadConfig fills AppConfig from defaults, the optional YAML file named by
// CONFIG_FILE, and the environment, in increasing precedence.
func LoadConfig() error {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg := defaultConfig()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return err
		}
	}
	applyEnv(&cfg)

	if err := validateConfig(cfg); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func defaultConfig() Config {
	return Config{
		HTTPPort:             "8080",
		LogLevel:             "INFO",
		LogFormat:            "json",
		LLMProvider:          ProviderGemini,
		GeminiModel:          "gemini-1.5-flash-latest",
		OpenAIBaseURL:        defaultOpenAIBaseURL,
		OpenAIModel:          "gpt-4o-mini",
		OllamaBaseURL:        "http://localhost:11434",
		OllamaModel:          "llama3",
		GenerationTimeoutSec: 30,
		GenerationMaxRetries: 3,
		EmbeddingDim:         384,
		ContextLimit:         5,
		MaxUploadMB:          32,
		CORSAllowedOrigins:   []string{"*"},
		RateLimitPerMinute:   30,
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", cfg.LLMProvider)))
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OllamaBaseURL = getEnv("OLLAMA_BASE_URL", cfg.OllamaBaseURL)
	cfg.OllamaModel = getEnv("OLLAMA_MODEL", cfg.OllamaModel)
	cfg.GenerationTimeoutSec = getEnvAsInt("GENERATION_TIMEOUT_SECS", cfg.GenerationTimeoutSec)
	cfg.GenerationMaxRetries = getEnvAsInt("GENERATION_MAX_RETRIES", cfg.GenerationMaxRetries)

	cfg.EmbeddingDim = getEnvAsInt("EMBEDDING_DIM", cfg.EmbeddingDim)
	cfg.ContextLimit = getEnvAsInt("CONTEXT_LIMIT", cfg.ContextLimit)
	cfg.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", cfg.MaxUploadMB)

	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RateLimitPerMinute = getEnvAsInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
}

func validateConfig(cfg Config) error {
	switch cfg.LLMProvider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case ProviderOpenAI:
		// Self-hosted compatible servers often run without a key.
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == defaultOpenAIBaseURL {
			return errors.New("config: OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case ProviderOllama:
		if strings.TrimSpace(cfg.OllamaBaseURL) == "" {
			return errors.New("config: OLLAMA_BASE_URL is required when LLM_PROVIDER=ollama")
		}
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if cfg.HTTPPort == "" {
		return errors.New("config: HTTP_PORT is required")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: EMBEDDING_DIM must be positive")
	}
	if cfg.ContextLimit <= 0 {
		return errors.New("config: CONTEXT_LIMIT must be positive")
	}
	if cfg.GenerationTimeoutSec <= 0 {
		return errors.New("config: GENERATION_TIMEOUT_SECS must be positive")
	}
	if cfg.MaxUploadMB <= 0 {
		return errors.New("config: MAX_UPLOAD_MB must be positive")
	}
	if cfg.RedisAddr != "" && cfg.RateLimitPerMinute <= 0 {
		return errors.New("config: RATE_LIMIT_PER_MINUTE must be positive when REDIS_ADDR is set")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
