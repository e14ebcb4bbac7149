package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport names for TRANSPORT.
const (
	TransportWebsocket = "websocket"
	TransportTelegram  = "telegram"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Telegram  TelegramConfig
	Queue     QueueConfig
	Quiz      QuizConfig
	Transport string // websocket | telegram
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/quiz?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// TelegramConfig holds bot settings, used when Transport is telegram.
type TelegramConfig struct {
	Token          string
	UpdateTimeout  int // long-poll seconds
	Debug          bool
	DirectoryCache int // display names kept in memory
}

// QueueConfig holds result-job worker settings.
type QueueConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
	InProcess    bool // also consume result jobs inside the API server
}

// QuizConfig holds the orchestrator policy.
type QuizConfig struct {
	MaxPrivateSessions     int
	MaxChannelSessions     int
	MaxUserChannelSessions int
	DefaultTimeBudget      time.Duration
	DueGrace               time.Duration
	StuckTTL               time.Duration
	CleanupTTL             time.Duration
	VoteTTL                time.Duration
	PauseAfterMisses       int
	WarnOnFirstMiss        bool
	OptionMaxLen           int
	QuestionMaxLen         int
	SweepInterval          time.Duration // 0 disables the background sweep
	DefaultQuorum          int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "quiz"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Telegram: TelegramConfig{
			Token:          getEnv("TELEGRAM_TOKEN", ""),
			UpdateTimeout:  getEnvInt("TELEGRAM_UPDATE_TIMEOUT", 60),
			Debug:          getEnvBool("TELEGRAM_DEBUG", false),
			DirectoryCache: getEnvInt("TELEGRAM_DIRECTORY_CACHE", 4096),
		},
		Queue: QueueConfig{
			MaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("QUEUE_RETRY_BACKOFF", 10*time.Second),
			InProcess:    getEnvBool("QUEUE_IN_PROCESS", true),
		},
		Quiz: QuizConfig{
			MaxPrivateSessions:     getEnvInt("QUIZ_MAX_PRIVATE_SESSIONS", 3),
			MaxChannelSessions:     getEnvInt("QUIZ_MAX_CHANNEL_SESSIONS", 2),
			MaxUserChannelSessions: getEnvInt("QUIZ_MAX_USER_CHANNEL_SESSIONS", 1),
			DefaultTimeBudget:      getEnvDuration("QUIZ_DEFAULT_TIME_BUDGET", 30*time.Second),
			DueGrace:               getEnvDuration("QUIZ_DUE_GRACE", 5*time.Second),
			StuckTTL:               getEnvDuration("QUIZ_STUCK_TTL", 30*time.Minute),
			CleanupTTL:             getEnvDuration("QUIZ_CLEANUP_TTL", 2*time.Hour),
			VoteTTL:                getEnvDuration("QUIZ_VOTE_TTL", 10*time.Minute),
			PauseAfterMisses:       getEnvInt("QUIZ_PAUSE_AFTER_MISSES", 2),
			WarnOnFirstMiss:        getEnvBool("QUIZ_WARN_ON_FIRST_MISS", true),
			OptionMaxLen:           getEnvInt("QUIZ_OPTION_MAX_LEN", 100),
			QuestionMaxLen:         getEnvInt("QUIZ_QUESTION_MAX_LEN", 300),
			SweepInterval:          getEnvDuration("QUIZ_SWEEP_INTERVAL", 15*time.Second),
			DefaultQuorum:          getEnvInt("QUIZ_DEFAULT_QUORUM", 3),
		},
		Transport: strings.ToLower(getEnv("TRANSPORT", TransportWebsocket)),
	}

	switch cfg.Transport {
	case TransportWebsocket:
	case TransportTelegram:
		if cfg.Telegram.Token == "" {
			return nil, fmt.Errorf("TELEGRAM_TOKEN is required when TRANSPORT=%s", TransportTelegram)
		}
	default:
		return nil, fmt.Errorf("unknown TRANSPORT %q", cfg.Transport)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
