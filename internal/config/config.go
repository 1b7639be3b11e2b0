// Package config provides environment configuration for the server.
package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Host               string
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage
	DatabaseURL string

	// Upstream inference
	UpstreamProvider string
	OllamaURL        string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	DefaultModel     string

	// Pipeline
	QueueCapacity       int
	ContinueOnTurnError bool
	TurnTimeout         time.Duration
	PersistTimeout      time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment take precedence over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return &Config{
		// Server
		Host:               getEnv("LOKAI_HOST", "0.0.0.0"),
		Port:               getEnv("LOKAI_PORT", "3000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Storage
		DatabaseURL: getEnv("DATABASE_URL", "sqlite://db.sqlite3"),

		// Upstream
		UpstreamProvider: getEnv("UPSTREAM_PROVIDER", "ollama"),
		OllamaURL:        getEnv("OLLAMA_URL", "http://host.docker.internal:11434"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		DefaultModel:     getEnv("LOKAI_DEFAULT_LLM_MODEL", "phi3:3.8b"),

		// Pipeline
		QueueCapacity:       getIntEnv("PIPELINE_QUEUE_CAPACITY", 100),
		ContinueOnTurnError: getBoolEnv("PIPELINE_CONTINUE_ON_TURN_ERROR", false),
		TurnTimeout:         getDurationEnv("PIPELINE_TURN_TIMEOUT", 0),
		PersistTimeout:      getDurationEnv("PIPELINE_PERSIST_TIMEOUT", 5*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
