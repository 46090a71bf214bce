package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Assistant AssistantConfig
}

type AppConfig struct {
	Port      string
	Env       string
	LogLevel  string
	BaseURL   string
	QRCodeDir string
}

// IsProduction сообщает, запущено ли приложение в боевом режиме
func (c AppConfig) IsProduction() bool {
	return c.Env == "production"
}

type DBConfig struct {
	URL string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Enabled возвращает true, если Redis сконфигурирован
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> name/description
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

type AssistantConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration
	Reprompt    bool
}

func Load() (*Config, error) {
	// Локальный .env для разработки (отсутствие файла не ошибка)
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.Env = v.GetString("APP_ENV")
	cfg.App.LogLevel = v.GetString("LOG_LEVEL")
	cfg.App.BaseURL = strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")
	cfg.App.QRCodeDir = v.GetString("QR_CODE_DIR")

	cfg.DB.URL = v.GetString("DATABASE_URL")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")

	// Format: key1:name1,key2:name2
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.Assistant.APIKey = v.GetString("GROQ_API_KEY")
	cfg.Assistant.Model = v.GetString("GROQ_MODEL")
	cfg.Assistant.BaseURL = v.GetString("GROQ_API_URL")
	cfg.Assistant.Timeout = v.GetDuration("LLM_TIMEOUT")
	cfg.Assistant.MinInterval = v.GetDuration("LLM_MIN_INTERVAL")
	cfg.Assistant.Reprompt = v.GetBool("LLM_REPROMPT")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_BASE_URL", "http://127.0.0.1:8080")
	v.SetDefault("QR_CODE_DIR", "qr_codes")
	v.SetDefault("DATABASE_URL", "file:qrcodes.db")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("GROQ_MODEL", "mixtral-8x7b-32768")
	v.SetDefault("GROQ_API_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("LLM_TIMEOUT", 30*time.Second)
	v.SetDefault("LLM_MIN_INTERVAL", time.Second)
	v.SetDefault("LLM_REPROMPT", true)
}

func (c *Config) validate() error {
	if c.App.QRCodeDir == "" {
		return fmt.Errorf("QR_CODE_DIR must not be empty")
	}
	if c.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Assistant.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.Assistant.MinInterval < 0 {
		return fmt.Errorf("LLM_MIN_INTERVAL must not be negative")
	}
	return nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:name1,key2:name2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 && strings.TrimSpace(parts[0]) != "" {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}
