package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	AI       AIConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// EngineConfig holds flow engine tunables
type EngineConfig struct {
	// Default wall-clock budget for a single execution
	DefaultTimeout time.Duration

	// Circuit breaker defaults (per node-type key)
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
	BreakerProbes    int

	// Parallel fan-out caps
	MaxBranchesPerNode int
	MaxBranchesProcess int

	// Wait-for-reply defaults
	WaitDefaultTimeout time.Duration
	WaitRetryLimit     int
}

// AIConfig holds AI collaborator settings
type AIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	CallTimeout  time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flowengine"),
			User:        getEnv("POSTGRES_USER", "flowengine"),
			Password:    getEnv("POSTGRES_PASSWORD", "flowengine"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			DefaultTimeout:     getEnvDuration("ENGINE_DEFAULT_TIMEOUT", 5*time.Minute),
			BreakerThreshold:   getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerWindow:      getEnvDuration("BREAKER_WINDOW", 60*time.Second),
			BreakerCooldown:    getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),
			BreakerProbes:      getEnvInt("BREAKER_HALF_OPEN_PROBES", 1),
			MaxBranchesPerNode: getEnvInt("PARALLEL_MAX_BRANCHES", 32),
			MaxBranchesProcess: getEnvInt("PARALLEL_PROCESS_CAP", 256),
			WaitDefaultTimeout: getEnvDuration("WAIT_DEFAULT_TIMEOUT", 10*time.Minute),
			WaitRetryLimit:     getEnvInt("WAIT_RETRY_LIMIT", 3),
		},
		AI: AIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			DefaultModel: getEnv("OPENAI_DEFAULT_MODEL", "gpt-4o-mini"),
			CallTimeout:  getEnvDuration("AI_CALL_TIMEOUT", 60*time.Second),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.BreakerThreshold < 1 {
		return fmt.Errorf("breaker threshold must be >= 1")
	}

	if c.Engine.MaxBranchesPerNode < 1 {
		return fmt.Errorf("parallel max branches must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
