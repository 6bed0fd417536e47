package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings of both binaries. Values come from the
// built-in defaults, then an optional YAML file, then the environment.
type Config struct {
	Port string `yaml:"port"`

	LLMProvider   string `yaml:"llm_provider"`
	LLMModel      string `yaml:"llm_model"`
	GoogleAPIKey  string `yaml:"google_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	SearchProvider string `yaml:"search_provider"`
	WaterCrawlURL  string `yaml:"watercrawl_url"`
	SearxURL       string `yaml:"searx_url"`
	SearxKey       string `yaml:"searx_key"`
	SearchFile     string `yaml:"search_file"`
	SearchLimit    int    `yaml:"search_limit"`
	FetchContent   bool   `yaml:"fetch_content"`

	ConcurrencyLimit int           `yaml:"concurrency_limit"`
	ContextSize      int           `yaml:"context_size"`
	ItemTokenBudget  int           `yaml:"item_token_budget"`
	DistillTimeout   time.Duration `yaml:"distill_timeout"`
	ResearchTimeout  time.Duration `yaml:"research_timeout"`
	ReportTimeout    time.Duration `yaml:"report_timeout"`

	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	DatabaseURL string `yaml:"database_url"`
	CacheDir    string `yaml:"cache_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:             "3051",
		SearchProvider:   "watercrawl",
		WaterCrawlURL:    "http://localhost:8080",
		SearchLimit:      5,
		ConcurrencyLimit: 2,
		ContextSize:      128000,
		ItemTokenBudget:  25000,
		DistillTimeout:   60 * time.Second,
		ResearchTimeout:  300 * time.Second,
		ReportTimeout:    60 * time.Second,
		RateLimitRPS:     1,
		RateLimitBurst:   5,
		AllowedOrigins:   []string{"*"},
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load builds the configuration. path, when non-empty, names a YAML file;
// otherwise CONFIG_FILE is consulted.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LLMProvider = strings.ToLower(getEnv("LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.GoogleAPIKey = getEnv("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY", cfg.GoogleAPIKey))
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.SearchProvider = strings.ToLower(getEnv("SEARCH_PROVIDER", cfg.SearchProvider))
	cfg.WaterCrawlURL = getEnv("WATERCRAWL_URL", cfg.WaterCrawlURL)
	cfg.SearxURL = getEnv("SEARX_URL", cfg.SearxURL)
	cfg.SearxKey = getEnv("SEARX_KEY", cfg.SearxKey)
	cfg.SearchFile = getEnv("SEARCH_FILE", cfg.SearchFile)
	cfg.SearchLimit = getEnvAsInt("SEARCH_LIMIT", cfg.SearchLimit)
	cfg.FetchContent = getEnvAsBool("FETCH_CONTENT", cfg.FetchContent)

	cfg.ConcurrencyLimit = getEnvAsInt("CONCURRENCY_LIMIT", cfg.ConcurrencyLimit)
	cfg.ContextSize = getEnvAsInt("CONTEXT_SIZE", cfg.ContextSize)
	cfg.ItemTokenBudget = getEnvAsInt("ITEM_TOKEN_BUDGET", cfg.ItemTokenBudget)
	cfg.DistillTimeout = getEnvAsDuration("DISTILL_TIMEOUT", cfg.DistillTimeout)
	cfg.ResearchTimeout = getEnvAsDuration("RESEARCH_TIMEOUT", cfg.ResearchTimeout)
	cfg.ReportTimeout = getEnvAsDuration("REPORT_TIMEOUT", cfg.ReportTimeout)

	cfg.RateLimitRPS = getEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.CacheDir = getEnv("CACHE_DIR", cfg.CacheDir)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))

	return cfg, nil
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.ConcurrencyLimit <= 0 {
		errs = append(errs, fmt.Errorf("concurrency limit must be positive, got %d", c.ConcurrencyLimit))
	}
	if c.SearchLimit <= 0 {
		errs = append(errs, fmt.Errorf("search limit must be positive, got %d", c.SearchLimit))
	}
	if c.ContextSize <= 0 || c.ItemTokenBudget <= 0 {
		errs = append(errs, errors.New("token budgets must be positive"))
	}
	if c.DistillTimeout <= 0 || c.ResearchTimeout <= 0 || c.ReportTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	switch c.SearchProvider {
	case "watercrawl":
		if c.WaterCrawlURL == "" {
			errs = append(errs, errors.New("WATERCRAWL_URL is required for the watercrawl provider"))
		}
	case "searxng":
		if c.SearxURL == "" {
			errs = append(errs, errors.New("SEARX_URL is required for the searxng provider"))
		}
	case "file":
		if c.SearchFile == "" {
			errs = append(errs, errors.New("SEARCH_FILE is required for the file provider"))
		}
	case "arxiv":
	default:
		errs = append(errs, fmt.Errorf("unknown search provider %q", c.SearchProvider))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
