package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string
	AppMode string

	StoreDriver string
	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBMaxConns  int

	RedisHost          string
	RedisPort          string
	RedisPassword      string
	RedisDB            int
	RedisPubSubEnabled bool

	JWTSecret string

	PresenceTTL       time.Duration
	SendLimit         int
	SendWindow        time.Duration
	HandshakeLimit    int
	HandshakeWindow   time.Duration
	ThreadCacheTTL    time.Duration
	TypingTTL         time.Duration
	OfflineQueueCap   int
	OfflineQueueTTL   time.Duration
	OfflinePinCreated bool

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	AuditBucket        string
	AuditRegion        string
	AuditEndpoint      string
	AuditAccessKey     string
	AuditSecretKey     string
	AuditFlushInterval time.Duration
	AuditBatchSize     int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppMode: getEnv("APP_MODE", "debug"),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "sentinal_chat"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 20),

		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvAsInt("REDIS_DB", 0),
		RedisPubSubEnabled: getEnvAsBool("REDIS_PUBSUB_ENABLED", true),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),

		PresenceTTL:       getEnvAsDuration("PRESENCE_TTL", 60*time.Second),
		SendLimit:         getEnvAsInt("SEND_RATE_LIMIT", 25),
		SendWindow:        getEnvAsDuration("SEND_RATE_WINDOW", 60*time.Second),
		HandshakeLimit:    getEnvAsInt("HANDSHAKE_RATE_LIMIT", 30),
		HandshakeWindow:   getEnvAsDuration("HANDSHAKE_RATE_WINDOW", 60*time.Second),
		ThreadCacheTTL:    getEnvAsDuration("THREAD_CACHE_TTL", 5*time.Minute),
		TypingTTL:         getEnvAsDuration("TYPING_TTL", 6*time.Second),
		OfflineQueueCap:   getEnvAsInt("OFFLINE_QUEUE_CAP", 200),
		OfflineQueueTTL:   getEnvAsDuration("OFFLINE_QUEUE_TTL", 7*24*time.Hour),
		OfflinePinCreated: getEnvAsBool("OFFLINE_QUEUE_EXEMPT_THREAD_CREATED", true),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "chat.events"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "realtime.thread-created"),

		AuditBucket:        getEnv("AUDIT_S3_BUCKET", ""),
		AuditRegion:        getEnv("AUDIT_S3_REGION", "us-east-1"),
		AuditEndpoint:      getEnv("AUDIT_S3_ENDPOINT", ""),
		AuditAccessKey:     getEnv("AUDIT_S3_ACCESS_KEY", ""),
		AuditSecretKey:     getEnv("AUDIT_S3_SECRET_KEY", ""),
		AuditFlushInterval: getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 30*time.Second),
		AuditBatchSize:     getEnvAsInt("AUDIT_BATCH_SIZE", 500),
	}
}

// DSN returns DATABASE_URL when set, otherwise builds one from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
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
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
