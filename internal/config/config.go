// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port     string
	DBPath   string
	LogLevel string
	// text or json
	LogFormat string

	JWTSecret []byte
	TokenTTL  time.Duration

	ExecutorURL     string
	ExecutorTimeout time.Duration
	CompileTimeout  time.Duration
	RunTimeout      time.Duration
	RuntimesFile    string

	// Empty RedisAddr keeps run throttling in process
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RunsPerMinute int

	EnforceCapacity    bool
	CheckpointInterval time.Duration
	SubscriberBuffer   int
}

// Load reads envFile (if present) into the process environment and builds
// the Config. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
			logrus.Debugf("No %s file found, relying on environment variables", envFile)
		}
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DBPath:    getEnv("CODECOLLAB_DB_PATH", "./data/codecollab.db"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		JWTSecret: []byte(getEnv("JWT_SECRET", defaultJWTSecret)),
		TokenTTL:  time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,

		ExecutorURL:     getEnv("EXECUTOR_URL", "https://emkc.org/api/v2/piston/execute"),
		ExecutorTimeout: getEnvAsDuration("EXECUTOR_TIMEOUT", 30*time.Second),
		CompileTimeout:  getEnvAsDuration("EXECUTOR_COMPILE_TIMEOUT", 10*time.Second),
		RunTimeout:      getEnvAsDuration("EXECUTOR_RUN_TIMEOUT", 3*time.Second),
		RuntimesFile:    getEnv("EXECUTOR_RUNTIMES_FILE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RunsPerMinute: getEnvAsInt("RUNS_PER_MINUTE", 0),

		EnforceCapacity:    getEnvAsBool("ROOM_ENFORCE_CAPACITY", false),
		CheckpointInterval: getEnvAsDuration("CHECKPOINT_INTERVAL", 5*time.Second),
		SubscriberBuffer:   getEnvAsInt("SUBSCRIBER_BUFFER", 64),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q: must be text or json", c.LogFormat)
	}
	if len(c.JWTSecret) == 0 {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.CompileTimeout <= 0 || c.RunTimeout <= 0 || c.ExecutorTimeout <= 0 {
		return errors.New("executor timeouts must be positive")
	}
	if c.RunsPerMinute < 0 {
		return errors.New("RUNS_PER_MINUTE must not be negative")
	}
	if c.CheckpointInterval <= 0 {
		return errors.New("CHECKPOINT_INTERVAL must be positive")
	}
	return nil
}

// UsesDefaultSecret reports whether tokens are signed with the built-in
// development secret
func (c *Config) UsesDefaultSecret() bool {
	return string(c.JWTSecret) == defaultJWTSecret
}

// SetupLogging applies level and format to the standard logrus logger
func (c *Config) SetupLogging() {
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

// Accepts Go durations ("1500ms") or a bare number of milliseconds
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
