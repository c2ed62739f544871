package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Kafka    KafkaConfig
	Logging  LoggingConfig
	Consumer ConsumerConfig
	Producer ProducerConfig
	Metrics  MetricsConfig
}

type KafkaConfig struct {
	Brokers             []string      `validate:"required,min=1,dive,hostname_port"`
	HealthCheckInterval time.Duration `validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `validate:"required,oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"oneof=json text"`
	Env    string
	LogFor []string
}

type ConsumerConfig struct {
	GroupID          string        `validate:"required"`
	Topics           []string      `validate:"required,min=1,dive,required"`
	Workers          int           `validate:"gte=1"`
	FetchMinBytes    int           `validate:"gte=1"`
	FetchMaxBytes    int           `validate:"gtefield=FetchMinBytes"`
	SessionTimeout   time.Duration `validate:"gt=0"`
	CommitInterval   time.Duration `validate:"gte=0"`
	ReceiveBackoff   time.Duration `validate:"gte=0"`
	ReplyTopicSuffix string        `validate:"required"`
}

type ProducerConfig struct {
	Acks                   int           `validate:"oneof=-1 0 1"`
	PublishTimeout         time.Duration `validate:"gt=0"`
	AllowAutoTopicCreation bool
}

type MetricsConfig struct {
	// Addr serves /metrics and /healthz; empty disables the listener.
	Addr string `validate:"omitempty,hostname_port"`
}

// Load reads .env (when present) and the environment, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
		log.Println("Warning: .env file not found, using environment")
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Kafka: KafkaConfig{
			Brokers:             parseList(getEnv("KAFKA_BROKERS", "localhost:9092,localhost:9093,localhost:9094")),
			HealthCheckInterval: getEnvDuration("KAFKA_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Env:    getEnv("LOG_ENV", "DEV"),
			LogFor: parseList(getEnv("LOG_FOR", "DEV,STAGE")),
		},
		Consumer: ConsumerConfig{
			GroupID:          getEnv("KAFKA_CONSUMER_GROUP_ID", "reply-bridge-group"),
			Topics:           parseList(getEnv("KAFKA_SUBSCRIBE_TOPICS", "test,another")),
			Workers:          getEnvInt("KAFKA_CONSUMER_WORKERS", 1),
			FetchMinBytes:    getEnvInt("KAFKA_FETCH_MIN_BYTES", 1),
			FetchMaxBytes:    getEnvInt("KAFKA_FETCH_MAX_BYTES", 10485760),
			SessionTimeout:   getEnvDuration("KAFKA_SESSION_TIMEOUT", 6*time.Second),
			CommitInterval:   getEnvDuration("KAFKA_COMMIT_INTERVAL", 5*time.Second),
			ReceiveBackoff:   getEnvDuration("KAFKA_RECEIVE_BACKOFF", time.Second),
			ReplyTopicSuffix: getEnv("KAFKA_REPLY_TOPIC_SUFFIX", ".reply"),
		},
		Producer: ProducerConfig{
			Acks:                   parseAcks(getEnv("KAFKA_PRODUCER_ACKS", "all")),
			PublishTimeout:         getEnvDuration("KAFKA_PUBLISH_TIMEOUT", time.Second),
			AllowAutoTopicCreation: getEnvBool("KAFKA_ALLOW_AUTO_TOPIC_CREATION", true),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1s") or plain milliseconds ("6000").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseAcks(acks string) int {
	switch strings.ToLower(acks) {
	case "all", "-1":
		return -1
	case "0", "none":
		return 0
	case "1", "one":
		return 1
	default:
		return -1 // default to all
	}
}
