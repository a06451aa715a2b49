// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON config file and
// environment variables (optionally seeded from a .env file), applied in
// that order.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Options holds the configuration values for the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"port"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// EnvFile is a dotenv file whose variables are loaded into the process
	// environment. Variables already set take precedence.
	EnvFile string `json:"-"`

	// LogLevel is a zap level name.
	LogLevel string `json:"log_level"`

	// JWTSecret and JWTIssuer validate identity provider tokens.
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`

	// KafkaBrokers is a comma separated broker list. Notifications are
	// disabled when it is empty.
	KafkaBrokers string `json:"kafka_brokers"`
	KafkaTopic   string `json:"kafka_topic"`

	// PullLimit caps the records returned by one sync cycle.
	PullLimit int `json:"pull_limit"`

	RetryAttempts  int           `json:"retry_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`

	// PurgeInterval is how often acknowledged tombstones are purged.
	PurgeInterval time.Duration `json:"purge_interval"`
	// Retention is how long a tombstone outlives its first delivery. A
	// participant not seen for this long no longer holds tombstones back.
	Retention time.Duration `json:"retention"`
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	flag.StringVar(&options.EnvFile, "env-file", ".env", "dotenv file to load")
	flag.StringVar(&options.LogLevel, "l", "info", "log level")
	flag.StringVar(&options.JWTSecret, "jwt-secret", "", "HS256 secret for bearer tokens (required)")
	flag.StringVar(&options.JWTIssuer, "jwt-issuer", "", "expected token issuer")
	flag.StringVar(&options.KafkaBrokers, "kafka-brokers", "", "comma separated Kafka brokers")
	flag.StringVar(&options.KafkaTopic, "kafka-topic", "health.record-changed", "topic for change notifications")
	flag.IntVar(&options.PullLimit, "pull-limit", 500, "max records returned per sync")
	flag.IntVar(&options.RetryAttempts, "retry-attempts", 4, "attempts for transient store errors")
	flag.DurationVar(&options.RetryBaseDelay, "retry-delay", 50*time.Millisecond, "base backoff delay")
	flag.DurationVar(&options.PurgeInterval, "purge-interval", time.Hour, "tombstone purge interval")
	flag.DurationVar(&options.Retention, "retention", 30*24*time.Hour, "tombstone retention after delivery")
}

// Parse parses the command-line flags, the config file and environment
// variables to set configuration values. It returns a pointer to the
// Options struct containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	if err := loadEnvFile(options.EnvFile); err != nil {
		log.Fatalf("error while loading env file: %v", err)
	}

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	applyEnv(options)
	return options
}

// Validate reports settings the server cannot run without.
func (o *Options) Validate() error {
	if o.JWTSecret == "" {
		return errors.New("jwt secret is required: set -jwt-secret or JWT_SECRET")
	}
	return nil
}

// Brokers returns the configured Kafka brokers.
func (o *Options) Brokers() []string {
	return splitAndTrim(o.KafkaBrokers)
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func applyEnv(o *Options) {
	o.Port = getEnv("SERVER_ADDRESS", o.Port)
	o.DatabaseDSN = getEnv("DATABASE_DSN", o.DatabaseDSN)
	o.LogLevel = getEnv("LOG_LEVEL", o.LogLevel)
	o.JWTSecret = getEnv("JWT_SECRET", o.JWTSecret)
	o.JWTIssuer = getEnv("JWT_ISSUER", o.JWTIssuer)
	o.KafkaBrokers = getEnv("KAFKA_BROKERS", o.KafkaBrokers)
	o.KafkaTopic = getEnv("KAFKA_TOPIC", o.KafkaTopic)
	o.PullLimit = getIntEnv("SYNC_PULL_LIMIT", o.PullLimit)
	o.RetryAttempts = getIntEnv("SYNC_RETRY_ATTEMPTS", o.RetryAttempts)
	o.RetryBaseDelay = getDurationEnv("SYNC_RETRY_DELAY", o.RetryBaseDelay)
	o.PurgeInterval = getDurationEnv("PURGE_INTERVAL", o.PurgeInterval)
	o.Retention = getDurationEnv("TOMBSTONE_RETENTION", o.Retention)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
