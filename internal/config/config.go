package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Session SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	server, err := loadServerConfig(cfg.Server)
	if err != nil {
		return nil, err
	}
	cfg.Server = server

	if err := loadModelParams(&cfg.AI); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port          string `env:"PORT" env-default:"8080"`
	AllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" env-default:"*"`

	// Addr is derived from Port.
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(server ServerConfig) (ServerConfig, error) {
	port := strings.TrimSpace(server.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		server.Addr = port
		return server, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	server.Addr = ":" + port
	return server, nil
}

// AIConfig 描述大模型相关配置。凭证由用户在页面上提供，这里不保存任何密钥。
type AIConfig struct {
	Provider           string `env:"AI_PROVIDER" env-default:"gemini"`
	Model              string `env:"AI_MODEL" env-default:"gemini-2.0-flash"`
	SystemPrompt       string `env:"AI_SYSTEM_PROMPT"`
	ValidateCredential bool   `env:"AI_VALIDATE_CREDENTIAL" env-default:"true"`
	HistoryLimit       int    `env:"AI_HISTORY_LIMIT" env-default:"50"`
	HistoryMaxTokens   int    `env:"AI_HISTORY_MAX_TOKENS" env-default:"0"`
	BaseURL            string `env:"ARK_BASE_URL" env-default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region             string `env:"ARK_REGION" env-default:"cn-beijing"`

	// Optional sampling parameters, nil when unset.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// SessionConfig 控制会话生命周期与凭证尝试频率。
type SessionConfig struct {
	IdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" env-default:"1m"`
	StartRate     float64       `env:"SESSION_START_RATE" env-default:"1"`
	StartBurst    int           `env:"SESSION_START_BURST" env-default:"5"`
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.AI.Provider)) {
	case "gemini", "ark":
		c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	default:
		return fmt.Errorf("invalid AI_PROVIDER value %q: want gemini or ark", c.AI.Provider)
	}

	c.AI.Model = strings.TrimSpace(c.AI.Model)
	if c.AI.Model == "" {
		return fmt.Errorf("AI_MODEL must not be empty")
	}
	if c.AI.HistoryLimit < 0 {
		c.AI.HistoryLimit = 0
	}
	if c.AI.HistoryMaxTokens < 0 {
		c.AI.HistoryMaxTokens = 0
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("invalid SESSION_IDLE_TIMEOUT value %s", c.Session.IdleTimeout)
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Session.StartBurst < 1 {
		c.Session.StartBurst = 1
	}
	return nil
}

func loadModelParams(ai *AIConfig) error {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return err
	}

	ai.Temperature = temperature
	ai.TopP = topP
	ai.MaxTokens = maxTokens
	return nil
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
