package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Session    SessionConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Limits     LimitsConfig
	Conversion ConversionConfig
	Cleanup    CleanupConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins string
	AdminToken     string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Endpoint        string // overrides the R2 account endpoint (MinIO etc.)
	UsePathStyle    bool
	PresignTTL      time.Duration
	URLCacheMargin  time.Duration
}

type UploadConfig struct {
	MaxFileSize     int64
	MaxFilesPerJob  int
	MaxTotalJobSize int64
}

type LimitsConfig struct {
	MaxConversionsPerDay int
}

type ConversionConfig struct {
	DefaultQuality int
	Timeout        time.Duration
	Concurrency    int
	MaxAttempts    int
	AVIFSpeed      int
}

type CleanupConfig struct {
	Interval time.Duration
	JobTTL   time.Duration
}

type RateLimitConfig struct {
	JobsPerHour int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("SESSION_SECRET")
	readSecret("STORAGE_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("ADMIN_TOKEN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = viper.BindEnv("server.admin_token", "ADMIN_TOKEN")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("session.secret", "SESSION_SECRET")
	_ = viper.BindEnv("session.ttl_seconds", "SESSION_TTL")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = viper.BindEnv("storage.presign_ttl_seconds", "PRESIGNED_URL_EXPIRY")
	_ = viper.BindEnv("storage.url_cache_margin_seconds", "URL_CACHE_MARGIN")
	_ = viper.BindEnv("upload.max_file_size", "MAX_FILE_SIZE")
	_ = viper.BindEnv("upload.max_files_per_job", "MAX_FILES_PER_JOB")
	_ = viper.BindEnv("upload.max_total_job_size", "MAX_TOTAL_JOB_SIZE")
	_ = viper.BindEnv("limits.max_conversions_per_day", "MAX_CONVERSIONS_PER_DAY")
	_ = viper.BindEnv("conversion.default_quality", "DEFAULT_QUALITY")
	_ = viper.BindEnv("conversion.timeout_ms", "CONVERSION_TIMEOUT")
	_ = viper.BindEnv("conversion.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("conversion.max_attempts", "CONVERSION_MAX_ATTEMPTS")
	_ = viper.BindEnv("conversion.avif_speed", "AVIF_SPEED")
	_ = viper.BindEnv("cleanup.interval_minutes", "CLEANUP_INTERVAL_MINUTES")
	_ = viper.BindEnv("cleanup.job_ttl_seconds", "JOB_TTL")
	_ = viper.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.allowed_origins", "http://localhost:5173")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("session.secret", "change-me-in-production")
	viper.SetDefault("session.ttl_seconds", 7200)
	viper.SetDefault("storage.bucket_name", "converter")
	viper.SetDefault("storage.use_path_style", false)
	viper.SetDefault("storage.presign_ttl_seconds", 3600)
	viper.SetDefault("storage.url_cache_margin_seconds", 300)
	viper.SetDefault("upload.max_file_size", 20*1024*1024)
	viper.SetDefault("upload.max_files_per_job", 20)
	viper.SetDefault("upload.max_total_job_size", 100*1024*1024)
	viper.SetDefault("limits.max_conversions_per_day", 50)
	viper.SetDefault("conversion.default_quality", 82)
	viper.SetDefault("conversion.timeout_ms", 30000)
	viper.SetDefault("conversion.concurrency", 4)
	viper.SetDefault("conversion.max_attempts", 2)
	viper.SetDefault("conversion.avif_speed", 6)
	viper.SetDefault("cleanup.interval_minutes", 30)
	viper.SetDefault("cleanup.job_ttl_seconds", 7200)
	viper.SetDefault("ratelimit.jobs_per_hour", 60)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			Env:            viper.GetString("server.env"),
			LogLevel:       viper.GetString("server.log_level"),
			AllowedOrigins: viper.GetString("server.allowed_origins"),
			AdminToken:     viper.GetString("server.admin_token"),
		},
		Database: DatabaseConfig{
			URL: viper.GetString("database.url"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Session: SessionConfig{
			Secret: viper.GetString("session.secret"),
			TTL:    time.Duration(viper.GetInt("session.ttl_seconds")) * time.Second,
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			Endpoint:        viper.GetString("storage.endpoint"),
			UsePathStyle:    viper.GetBool("storage.use_path_style"),
			PresignTTL:      time.Duration(viper.GetInt("storage.presign_ttl_seconds")) * time.Second,
			URLCacheMargin:  time.Duration(viper.GetInt("storage.url_cache_margin_seconds")) * time.Second,
		},
		Upload: UploadConfig{
			MaxFileSize:     viper.GetInt64("upload.max_file_size"),
			MaxFilesPerJob:  viper.GetInt("upload.max_files_per_job"),
			MaxTotalJobSize: viper.GetInt64("upload.max_total_job_size"),
		},
		Limits: LimitsConfig{
			MaxConversionsPerDay: viper.GetInt("limits.max_conversions_per_day"),
		},
		Conversion: ConversionConfig{
			DefaultQuality: viper.GetInt("conversion.default_quality"),
			Timeout:        time.Duration(viper.GetInt("conversion.timeout_ms")) * time.Millisecond,
			Concurrency:    viper.GetInt("conversion.concurrency"),
			MaxAttempts:    viper.GetInt("conversion.max_attempts"),
			AVIFSpeed:      viper.GetInt("conversion.avif_speed"),
		},
		Cleanup: CleanupConfig{
			Interval: time.Duration(viper.GetInt("cleanup.interval_minutes")) * time.Minute,
			JobTTL:   time.Duration(viper.GetInt("cleanup.job_ttl_seconds")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
		},
	}

	return cfg, nil
}
