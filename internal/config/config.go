package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Image storage
	StorageBucket        string
	StoragePublicBaseURL string

	// Inference service
	InferenceBaseURL string
	InferenceTimeout time.Duration

	UploadProgressInterval time.Duration
	ExportDir              string

	AuthJWTSecret      string
	CORSAllowedOrigins []string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	FacilityCacheTTL        time.Duration
	FacilitySuggestionLimit int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		StorageBucket:           getEnv("STORAGE_BUCKET", "xray-images"),
		StoragePublicBaseURL:    strings.TrimRight(getEnv("STORAGE_PUBLIC_BASE_URL", ""), "/"),
		InferenceBaseURL:        strings.TrimRight(getEnv("INFERENCE_BASE_URL", "http://localhost:8000/api"), "/"),
		InferenceTimeout:        getEnvAsDuration("INFERENCE_TIMEOUT", 60*time.Second),
		UploadProgressInterval:  getEnvAsDuration("UPLOAD_PROGRESS_INTERVAL", 200*time.Millisecond),
		ExportDir:               getEnv("EXPORT_DIR", "./exports"),
		AuthJWTSecret:           getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins:      getEnvAsList("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080"),
		RedisAddr:               getEnv("REDIS_ADDR", ""),
		RedisPassword:           getEnv("REDIS_PASSWORD", ""),
		RedisTLS:                getEnvAsBool("REDIS_TLS", false),
		FacilityCacheTTL:        getEnvAsDuration("FACILITY_CACHE_TTL", time.Hour),
		FacilitySuggestionLimit: getEnvAsInt("FACILITY_SUGGESTION_LIMIT", 5),
	}
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "production" || env == "prod"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
