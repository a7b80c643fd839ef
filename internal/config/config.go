package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Coach   CoachConfig
	Archive ArchiveConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	coach, err := loadCoachConfig()
	if err != nil {
		return nil, err
	}

	archive := loadArchiveConfig()

	return &Config{Server: server, AI: ai, Coach: coach, Archive: archive}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat model backend.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials or model: set ARK_API_KEY + Model, or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// CoachConfig tunes the live coaching pipeline.
type CoachConfig struct {
	SessionCapacity int
	Debounce        time.Duration
	Timeout         time.Duration
	RetryBackoff    time.Duration
	HistoryWindow   int
}

func loadCoachConfig() (CoachConfig, error) {
	cfg := CoachConfig{
		SessionCapacity: 50,
		Debounce:        400 * time.Millisecond,
		Timeout:         10 * time.Second,
		RetryBackoff:    500 * time.Millisecond,
		HistoryWindow:   5,
	}

	if v, err := parseOptionalIntEnv("SESSION_CAPACITY"); err != nil {
		return CoachConfig{}, err
	} else if v != nil {
		if *v < 1 {
			return CoachConfig{}, fmt.Errorf("SESSION_CAPACITY must be positive, got %d", *v)
		}
		cfg.SessionCapacity = *v
	}

	if v, err := parseOptionalIntEnv("SUGGESTION_DEBOUNCE_MS"); err != nil {
		return CoachConfig{}, err
	} else if v != nil {
		cfg.Debounce = time.Duration(*v) * time.Millisecond
	}

	if v, err := parseOptionalIntEnv("AI_TIMEOUT_SECONDS"); err != nil {
		return CoachConfig{}, err
	} else if v != nil {
		cfg.Timeout = time.Duration(*v) * time.Second
	}

	if v, err := parseOptionalIntEnv("AI_RETRY_BACKOFF_MS"); err != nil {
		return CoachConfig{}, err
	} else if v != nil {
		cfg.RetryBackoff = time.Duration(*v) * time.Millisecond
	}

	if v, err := parseOptionalIntEnv("SUGGESTION_HISTORY_WINDOW"); err != nil {
		return CoachConfig{}, err
	} else if v != nil && *v > 0 {
		cfg.HistoryWindow = *v
	}

	return cfg, nil
}

// ArchiveConfig describes the optional Redis call archive.
type ArchiveConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Enabled reports whether an archive backend was configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Addr != ""
}

func loadArchiveConfig() ArchiveConfig {
	cfg := ArchiveConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		TTL:      7 * 24 * time.Hour,
	}
	if v, err := parseOptionalIntEnv("REDIS_DB"); err == nil && v != nil {
		cfg.DB = *v
	}
	if v, err := parseOptionalIntEnv("ARCHIVE_TTL_HOURS"); err == nil && v != nil && *v > 0 {
		cfg.TTL = time.Duration(*v) * time.Hour
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
