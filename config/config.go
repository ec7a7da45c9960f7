package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bot
type Config struct {
	Telegram   TelegramConfig
	Mongo      MongoConfig
	Kafka      KafkaConfig
	Sessions   SessionsConfig
	Withdrawal WithdrawalConfig
	Logging    LoggingConfig
	Service    ServiceConfig
}

// TelegramConfig holds Bot API and MTProto configuration
type TelegramConfig struct {
	APIID              int
	APIHash            string
	BotToken           string
	Default2FAPassword string
	DeviceType         string // android, ios, windows or random
	AdminIDs           []int64
	WithdrawalLogChat  int64
	ProxyList          []string // host:port:user:pass entries
}

// MongoConfig holds document store configuration
type MongoConfig struct {
	URI      string
	Database string
}

// KafkaConfig holds audit event publishing configuration.
// Empty Brokers disables publishing.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// SessionsConfig holds session file storage configuration
type SessionsConfig struct {
	Dir            string
	TempMaxAge     time.Duration
	CleanupEvery   time.Duration
	AutoCancelAge  time.Duration
	SweepInterval  time.Duration
}

// WithdrawalConfig holds payout minimums
type WithdrawalConfig struct {
	MinLeaderCard float64
	MinBinance    float64
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name            string
	Port            string
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	apiID, err := strconv.Atoi(getEnv("API_ID", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_ID: %w", err)
	}

	logChat, err := strconv.ParseInt(getEnv("WITHDRAWAL_LOG_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid WITHDRAWAL_LOG_CHAT_ID: %w", err)
	}

	adminIDs, err := parseInt64List(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	tempMaxAge, err := time.ParseDuration(getEnv("SESSION_TEMP_MAX_AGE", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TEMP_MAX_AGE: %w", err)
	}

	cleanupEvery, err := time.ParseDuration(getEnv("SESSION_CLEANUP_INTERVAL", "4h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_CLEANUP_INTERVAL: %w", err)
	}

	autoCancelAge, err := time.ParseDuration(getEnv("AUTO_CANCEL_AGE", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_CANCEL_AGE: %w", err)
	}

	sweepInterval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	minLeader, err := strconv.ParseFloat(getEnv("MIN_WITHDRAW_LEADER_CARD", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_WITHDRAW_LEADER_CARD: %w", err)
	}

	minBinance, err := strconv.ParseFloat(getEnv("MIN_WITHDRAW_BINANCE", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_WITHDRAW_BINANCE: %w", err)
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			APIID:              apiID,
			APIHash:            getEnv("API_HASH", ""),
			BotToken:           getEnv("BOT_TOKEN", ""),
			Default2FAPassword: getEnv("DEFAULT_2FA_PASSWORD", ""),
			DeviceType:         getEnv("DEVICE_TYPE", "random"),
			AdminIDs:           adminIDs,
			WithdrawalLogChat:  logChat,
			ProxyList:          splitList(getEnv("PROXY_LIST", "")),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DB", "otpbot"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(getEnv("KAFKA_BROKERS", "")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "otpbot.audit"),
		},
		Sessions: SessionsConfig{
			Dir:           getEnv("SESSIONS_DIR", "./sessions"),
			TempMaxAge:    tempMaxAge,
			CleanupEvery:  cleanupEvery,
			AutoCancelAge: autoCancelAge,
			SweepInterval: sweepInterval,
		},
		Withdrawal: WithdrawalConfig{
			MinLeaderCard: minLeader,
			MinBinance:    minBinance,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Service: ServiceConfig{
			Name:            getEnv("SERVICE_NAME", "otp-bot"),
			Port:            getEnv("SERVICE_PORT", "8080"),
			ShutdownTimeout: shutdownTimeout,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("API_ID is required")
	}

	if c.Telegram.APIHash == "" {
		return fmt.Errorf("API_HASH is required")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}

	if c.Mongo.URI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}

	switch c.Telegram.DeviceType {
	case "android", "ios", "windows", "random":
	default:
		return fmt.Errorf("DEVICE_TYPE must be android, ios, windows or random")
	}

	for _, p := range c.Telegram.ProxyList {
		if len(strings.Split(p, ":")) != 4 {
			return fmt.Errorf("invalid proxy entry %q, want host:port:user:pass", p)
		}
	}

	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64List(s string) ([]int64, error) {
	var out []int64
	for _, p := range splitList(s) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
