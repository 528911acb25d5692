package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	topics "go-kafkaguard/config/kafka"
)

type Config struct {
	App      AppConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
	Consumer ConsumerConfig
	Producer ProducerConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type KafkaConfig struct {
	ClientID               string
	AdminClientID          string
	Brokers                []string
	AllowAutoTopicCreation bool
	CreateDLQTopics        bool
	TopicsFile             string
	Topics                 []topics.TopicSpec
	// UserSignupTopic is the topic the sample signup handler serves.
	UserSignupTopic string
}

type LoggingConfig struct {
	Level string
}

type ConsumerConfig struct {
	Enable            bool
	GroupID           string
	SessionTimeout    time.Duration
	RebalanceTimeout  time.Duration
	HeartbeatInterval time.Duration
	MaxBytes          int
	MaxWait           time.Duration
	PartitionBuffer   int
}

type ProducerConfig struct {
	SendTimeout    time.Duration
	Retries        int
	MaxInFlightOne bool
	ReplyPartition int
}

type MetricsConfig struct {
	Addr string
}

// Load reads the optional .env file and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name: getEnv("APP_NAME", "kafkaguard"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Kafka: KafkaConfig{
			ClientID:               getEnv("KAFKA_CLIENT_ID", "kafkaguard"),
			AdminClientID:          getEnv("KAFKA_ADMIN_CLIENT_ID", "kafkaguard-admin"),
			Brokers:                parseBrokers(getEnv("KAFKA_BROKERS", "localhost:9092")),
			AllowAutoTopicCreation: getEnvBool("KAFKA_ALLOW_AUTO_TOPIC_CREATION", false),
			CreateDLQTopics:        getEnvBool("KAFKA_CREATE_DLQ_TOPICS", false),
			TopicsFile:             getEnv("KAFKA_TOPICS_FILE", ""),
			UserSignupTopic:        getEnv("USER_SIGNUP_V1_TOPIC_NAME", "UserSignup"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Consumer: ConsumerConfig{
			Enable:            getEnvBool("KAFKA_CONSUMER_ENABLE", false),
			GroupID:           getEnv("KAFKA_CONSUMER_GROUP", "nestjs.ack"),
			SessionTimeout:    getEnvDuration("KAFKA_CONSUMER_SESSION_TIMEOUT", 60*time.Second),
			RebalanceTimeout:  getEnvDuration("KAFKA_CONSUMER_REBALANCE_TIMEOUT", 90*time.Second),
			HeartbeatInterval: getEnvDuration("KAFKA_CONSUMER_HEARTBEAT_INTERVAL", 3*time.Second),
			MaxBytes:          getEnvInt("KAFKA_CONSUMER_MAX_BYTES", 10<<20),
			MaxWait:           getEnvDuration("KAFKA_CONSUMER_MAX_WAIT", 5*time.Second),
			PartitionBuffer:   getEnvInt("KAFKA_CONSUMER_PARTITION_BUFFER", 16),
		},
		Producer: ProducerConfig{
			SendTimeout:    getEnvDuration("KAFKA_PRODUCER_SEND_TIMEOUT", 30*time.Second),
			Retries:        getEnvInt("KAFKA_PRODUCER_RETRIES", 5),
			MaxInFlightOne: getEnvBool("KAFKA_PRODUCER_MAX_IN_FLIGHT_ONE", false),
			ReplyPartition: getEnvInt("KAFKA_REPLY_PARTITION", 0),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	if cfg.Kafka.TopicsFile != "" {
		declared, err := topics.LoadTopicsFile(cfg.Kafka.TopicsFile)
		if err != nil {
			return nil, err
		}
		cfg.Kafka.Topics = declared
	} else {
		cfg.Kafka.Topics = []topics.TopicSpec{{
			Name:              cfg.Kafka.UserSignupTopic,
			Partitions:        getEnvInt("USER_SIGNUP_V1_TOPIC_PARTITIONS", 1),
			ReplicationFactor: getEnvInt("USER_SIGNUP_V1_TOPIC_REPLICATION_FACTOR", 1),
			Reply:             getEnvBool("USER_SIGNUP_V1_TOPIC_REPLY", false),
		}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS cannot be empty")
	}
	if c.Producer.SendTimeout <= 0 {
		return errors.New("KAFKA_PRODUCER_SEND_TIMEOUT must be positive")
	}
	if c.Producer.ReplyPartition < 0 {
		return errors.New("KAFKA_REPLY_PARTITION cannot be negative")
	}
	if c.Consumer.Enable && c.Consumer.GroupID == "" {
		return errors.New("KAFKA_CONSUMER_GROUP cannot be empty")
	}
	for _, t := range c.Kafka.Topics {
		if err := t.Validate(); err != nil {
			return err
		}
		if err := t.ValidateName(); err != nil {
			return err
		}
	}
	return nil
}

// DesiredTopics returns the declared topics plus their companion topics. Dead-letter
// companions are always declared unless the broker creates topics on first write.
func (c *Config) DesiredTopics() []topics.TopicSpec {
	withDLQ := c.Kafka.CreateDLQTopics || !c.Kafka.AllowAutoTopicCreation
	return topics.Expand(c.Kafka.Topics, withDLQ)
}

// TopicNames returns the declared topic names.
func (c *Config) TopicNames() []string {
	names := make([]string, 0, len(c.Kafka.Topics))
	for _, t := range c.Kafka.Topics {
		names = append(names, t.Name)
	}
	return names
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

// getEnvBool treats anything other than a parseable true value as the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or plain milliseconds ("30000").
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

func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, broker := range parts {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
