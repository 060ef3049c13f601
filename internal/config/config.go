// Package config provides application configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	AgentRuntimeAddr string
	JobsBaseURL      string
	// PostgresURL enables the relational layer and the chat-log table when set.
	PostgresURL string
	// RedisURL enables cross-instance relay of thread changes when set.
	RedisURL string
	Timezone string

	TriggerConcurrency  int
	RefineMaxIterations int
	TypingDelayMin      time.Duration
	TypingDelayMax      time.Duration
	ClosingPause        time.Duration
	RememberWindow      time.Duration
	OnboardingScript    string
	JobErrorBuffer      int

	ConversationLog ConversationLogConfig
	AI              AIConfig
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// AIConfig holds the Ark model settings used for quest generation.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float32
	MaxTokens   *int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		DBPath:              getEnv("DB_PATH", "./data/proxima.db"),
		AgentRuntimeAddr:    getEnv("AGENT_RUNTIME_ADDR", "localhost:50051"),
		JobsBaseURL:         getEnv("JOBS_BASE_URL", "http://localhost:8080"),
		PostgresURL:         getEnv("POSTGRES_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		Timezone:            getEnv("TIMEZONE", "Asia/Tokyo"),
		TriggerConcurrency:  getEnvInt("TRIGGER_CONCURRENCY", 16),
		RefineMaxIterations: getEnvInt("REFINE_MAX_ITERATIONS", 3),
		TypingDelayMin:      getEnvDuration("TYPING_DELAY_MIN", 2*time.Second),
		TypingDelayMax:      getEnvDuration("TYPING_DELAY_MAX", 5*time.Second),
		ClosingPause:        getEnvDuration("CLOSING_PAUSE", time.Second),
		RememberWindow:      getEnvDuration("REMEMBER_WINDOW", 48*time.Hour),
		OnboardingScript:    getEnv("ONBOARDING_SCRIPT_PATH", ""),
		JobErrorBuffer:      getEnvInt("JOB_ERROR_BUFFER", 64),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		AI: ai,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AgentRuntimeAddr == "" {
		return fmt.Errorf("AGENT_RUNTIME_ADDR cannot be empty")
	}
	if c.JobsBaseURL == "" {
		return fmt.Errorf("JOBS_BASE_URL cannot be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.TriggerConcurrency <= 0 {
		return fmt.Errorf("TRIGGER_CONCURRENCY must be > 0")
	}
	if c.RefineMaxIterations <= 0 {
		return fmt.Errorf("REFINE_MAX_ITERATIONS must be > 0")
	}
	if c.TypingDelayMin < 0 || c.TypingDelayMax < c.TypingDelayMin {
		return fmt.Errorf("TYPING_DELAY_MIN/MAX must satisfy 0 <= min <= max")
	}
	if c.ClosingPause < 0 {
		return fmt.Errorf("CLOSING_PAUSE cannot be negative")
	}
	if c.RememberWindow <= 0 {
		return fmt.Errorf("REMEMBER_WINDOW must be > 0")
	}
	if c.JobErrorBuffer <= 0 {
		return fmt.Errorf("JOB_ERROR_BUFFER must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// Location returns the configured time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllowedOrigins returns the CORS origins for the browser client.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// OriginPatterns returns the host patterns accepted by the websocket handshake.
func (c *Config) OriginPatterns() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(c.FrontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Enabled reports whether Ark credentials and a model are configured.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates the Ark chat model.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark model not configured: set ARK_MODEL and ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}
	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
}

func loadAIConfig() (AIConfig, error) {
	var ai AIConfig
	temperature, err := parseOptionalFloat32Env("ARK_TEMPERATURE")
	if err != nil {
		return ai, err
	}
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return ai, err
	}
	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnv("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnv("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseOptionalIntEnv(key string) (*int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &n, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	v := float32(f)
	return &v, nil
}
