package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	applog "budget/internal/log"
)

const maxClassifierConcurrency = 5

type Config struct {
	// HTTP Server
	Port           string
	MaxUploadBytes int64

	// Database
	SQLiteDBPath string

	// AMQP (empty URL disables messaging)
	AMQPURL          string
	AMQPExchange     string
	AMQPRescoreQueue string

	// Classifier
	GeminiAPIKey                string
	GeminiModel                 string
	ClassifierBatchSize         int
	ClassifierMaxAttempts       int
	ClassifierConcurrency       int
	ClassifierTimeout           time.Duration
	ClassifierRequestsPerMinute int
	LowConfidenceThreshold      float64
	RulesFile                   string

	// Import
	MonthConcurrency int
	StagingTTL       time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadDotEnv reads .env files for local development. Missing files are not an error.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8081"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budget.db"),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "budget"),
		AMQPRescoreQueue: getEnv("AMQP_RESCORE_QUEUE", "month_rescore"),

		GeminiAPIKey:                getEnv("GEMINI_API_KEY", ""),
		GeminiModel:                 getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ClassifierBatchSize:         getEnvInt("CLASSIFIER_BATCH_SIZE", 50),
		ClassifierMaxAttempts:       getEnvInt("CLASSIFIER_MAX_ATTEMPTS", 3),
		ClassifierConcurrency:       getEnvInt("CLASSIFIER_CONCURRENCY", 1),
		ClassifierTimeout:           getEnvDuration("CLASSIFIER_TIMEOUT", 60*time.Second),
		ClassifierRequestsPerMinute: getEnvInt("CLASSIFIER_REQUESTS_PER_MINUTE", 60),
		LowConfidenceThreshold:      getEnvFloat("LOW_CONFIDENCE_THRESHOLD", 1.0),
		RulesFile:                   getEnv("RULES_FILE", ""),

		MonthConcurrency: getEnvInt("MONTH_CONCURRENCY", 2),
		StagingTTL:       getEnvDuration("STAGING_TTL", 30*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// MessagingEnabled reports whether an AMQP broker is configured.
func (c *Config) MessagingEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.MaxUploadBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be positive", c.MaxUploadBytes))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRescoreQueue == "" {
			errors = append(errors, "AMQP rescore queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ClassifierBatchSize < 1 || c.ClassifierBatchSize > 500 {
		errors = append(errors, fmt.Sprintf("invalid classifier batch size %d: must be between 1 and 500", c.ClassifierBatchSize))
	}
	if c.ClassifierMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid classifier max attempts %d: must be at least 1", c.ClassifierMaxAttempts))
	}
	if c.ClassifierConcurrency < 1 || c.ClassifierConcurrency > maxClassifierConcurrency {
		errors = append(errors, fmt.Sprintf("invalid classifier concurrency %d: must be between 1 and %d", c.ClassifierConcurrency, maxClassifierConcurrency))
	}
	if c.ClassifierTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid classifier timeout %v: must be at least 1 second", c.ClassifierTimeout))
	}
	if c.ClassifierRequestsPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid classifier requests per minute %d: must not be negative", c.ClassifierRequestsPerMinute))
	}
	if c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("invalid low confidence threshold %v: must be between 0 and 1", c.LowConfidenceThreshold))
	}
	if c.RulesFile != "" {
		if _, err := os.Stat(c.RulesFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("rules file does not exist: %s", c.RulesFile))
		}
	}

	if c.MonthConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid month concurrency %d: must be at least 1", c.MonthConcurrency))
	}
	if c.StagingTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid staging TTL %v: must be at least 1 minute", c.StagingTTL))
	} else if c.StagingTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid staging TTL %v: must be at most 24 hours", c.StagingTTL))
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	if !applog.ValidFormat(c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// LoggerConfig maps the logging keys onto a logger configuration.
func (c *Config) LoggerConfig() applog.Config {
	cfg := applog.DefaultConfig()
	if level, err := applog.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.Format = strings.ToLower(c.LogFormat)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
