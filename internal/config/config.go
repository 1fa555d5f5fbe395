package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Access tokens
	TokenSecret string
	TokenTTL    time.Duration

	// Object storage
	S3Bucket      string
	S3Region      string
	PublicBaseURL string

	// Transcoding
	FFmpegPath        string
	FFprobePath       string
	ScratchDir        string
	WorkerCount       int
	SegmentSeconds    int
	ThumbnailInterval int

	// Upload limits
	MaxUploadBytes int64

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),

		TokenSecret: mustGetEnv("TOKEN_SECRET"),
		TokenTTL:    time.Duration(getEnvAsIntOrDefault("TOKEN_TTL_SECONDS", 7200)) * time.Second,

		S3Bucket:      mustGetEnv("S3_BUCKET"),
		S3Region:      getEnvOrDefault("S3_REGION", "us-east-1"),
		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", ""),

		FFmpegPath:        getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		ScratchDir:        getEnvOrDefault("SCRATCH_DIR", os.TempDir()),
		WorkerCount:       getEnvAsIntOrDefault("WORKER_COUNT", 2),
		SegmentSeconds:    getEnvAsIntOrDefault("HLS_SEGMENT_SECONDS", 6),
		ThumbnailInterval: getEnvAsIntOrDefault("THUMBNAIL_INTERVAL_SECONDS", 10),

		MaxUploadBytes: int64(getEnvAsIntOrDefault("MAX_UPLOAD_MB", 2048)) * 1024 * 1024,

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
