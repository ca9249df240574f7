package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Upload  UploadConfig
	Session SessionConfig
	Events  EventsConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type UploadConfig struct {
	Dir              string        // Root directory for per-session artifacts
	HashAlgorithm    string        // go-digest algorithm name, e.g. "sha256"
	ProgressInterval time.Duration // Minimum gap between progress broadcasts
	BodyLimit        int           // Bodies above this are streamed instead of buffered
}

type SessionConfig struct {
	// TTL is the sliding idle expiry of a session. Zero keeps sessions until
	// process exit; the operator must choose a value for long-running deployments.
	TTL             time.Duration
	CleanupInterval time.Duration
}

type EventsConfig struct {
	Topic          string // watermill in-process topic
	StepReportSubj string // NATS subject for worker step reports
	DurableName    string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/app-builder-ws.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Upload: UploadConfig{
			Dir:              getEnv("UPLOAD_DIR", "uploads"),
			HashAlgorithm:    getEnv("UPLOAD_HASH_ALGORITHM", "sha256"),
			ProgressInterval: getEnvAsDuration("UPLOAD_PROGRESS_INTERVAL", 500*time.Millisecond),
			BodyLimit:        getEnvAsInt("UPLOAD_BODY_LIMIT", 10*1024*1024),
		},
		Session: SessionConfig{
			TTL:             getEnvAsDuration("SESSION_TTL", 0),
			CleanupInterval: getEnvAsDuration("SESSION_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Events: EventsConfig{
			Topic:          getEnv("EVENTS_TOPIC", "APP_BUILDER_EVENTS"),
			StepReportSubj: getEnv("STEP_REPORT_SUBJECT", "events.PIPELINE_STEP_REPORTED"),
			DurableName:    getEnv("STEP_REPORT_DURABLE", "app-builder-step-reports"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
