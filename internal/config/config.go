package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	JWT          JWTConfig
	OIDC         OIDCConfig
	Gateway      GatewayConfig
	RateLimit    RateLimitConfig
	Storage      StorageConfig
	Retention    RetentionConfig
	Illustration IllustrationConfig
	Jobs         JobsConfig
	Upload       UploadConfig
	Audit        AuditConfig
	AMQP         AMQPConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
	BodyLimit int // bytes
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	BooksPerHour int
}

// StorageConfig describes the S3-compatible bucket holding book assets.
// Provider "r2" derives the endpoint from AccountID; "s3" uses Endpoint
// when set and the AWS default resolver otherwise.
type StorageConfig struct {
	Provider        string
	Endpoint        string
	Region          string
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

// RetentionConfig overrides the per-category retention in days.
// Zero means the category is kept indefinitely.
type RetentionConfig struct {
	UploadDays     int
	ProcessingDays int
	FinalDays      int
}

type IllustrationConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Size        string
	MaxAttempts int
	RetryDelay  time.Duration
	Parallelism int
}

type JobsConfig struct {
	Store               string
	Queue               string
	Concurrency         int
	MaxRetry            int
	LeaseTTL            time.Duration
	IllustrationTimeout time.Duration
	AssemblyTimeout     time.Duration
	ThumbnailTimeout    time.Duration
	StorageTimeout      time.Duration
	StaleAfter          time.Duration
	SweepCronspec       string
}

type UploadConfig struct {
	MaxBytes     int64
	AllowedTypes []string
}

type AuditConfig struct {
	Cronspec string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("ILLUSTRATION_API_KEY")
	readSecret("AMQP_URL")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                "SERVER_PORT",
		"server.env":                 "SERVER_ENV",
		"server.log_level":           "LOG_LEVEL",
		"server.api_domain":          "API_DOMAIN",
		"server.body_limit":          "SERVER_BODY_LIMIT",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"redis.db":                   "REDIS_DB",
		"jwt.secret":                 "JWT_SECRET",
		"jwt.expiration":             "JWT_EXPIRATION",
		"oidc.issuer":                "OIDC_ISSUER",
		"oidc.client_id":             "OIDC_CLIENT_ID",
		"gateway.enabled":            "GATEWAY_ENABLED",
		"ratelimit.books_per_hour":   "RATELIMIT_BOOKS_PER_HOUR",
		"storage.provider":           "STORAGE_PROVIDER",
		"storage.endpoint":           "STORAGE_ENDPOINT",
		"storage.region":             "STORAGE_REGION",
		"storage.account_id":         "STORAGE_ACCOUNT_ID",
		"storage.access_key_id":      "STORAGE_ACCESS_KEY_ID",
		"storage.secret_access_key":  "STORAGE_SECRET_ACCESS_KEY",
		"storage.bucket_name":        "STORAGE_BUCKET_NAME",
		"storage.use_path_style":     "STORAGE_USE_PATH_STYLE",
		"storage.presign_ttl":        "STORAGE_PRESIGN_TTL",
		"retention.upload_days":      "RETENTION_UPLOAD_DAYS",
		"retention.processing_days":  "RETENTION_PROCESSING_DAYS",
		"retention.final_days":       "RETENTION_FINAL_DAYS",
		"illustration.provider":      "ILLUSTRATION_PROVIDER",
		"illustration.api_key":       "ILLUSTRATION_API_KEY",
		"illustration.base_url":      "ILLUSTRATION_BASE_URL",
		"illustration.model":         "ILLUSTRATION_MODEL",
		"illustration.size":          "ILLUSTRATION_SIZE",
		"illustration.max_attempts":  "ILLUSTRATION_MAX_ATTEMPTS",
		"illustration.retry_delay":   "ILLUSTRATION_RETRY_DELAY",
		"illustration.parallelism":   "ILLUSTRATION_PARALLELISM",
		"jobs.store":                 "JOBS_STORE",
		"jobs.queue":                 "JOBS_QUEUE",
		"jobs.concurrency":           "JOBS_CONCURRENCY",
		"jobs.max_retry":             "JOBS_MAX_RETRY",
		"jobs.lease_ttl":             "JOBS_LEASE_TTL",
		"jobs.illustration_timeout":  "JOBS_ILLUSTRATION_TIMEOUT",
		"jobs.assembly_timeout":      "JOBS_ASSEMBLY_TIMEOUT",
		"jobs.thumbnail_timeout":     "JOBS_THUMBNAIL_TIMEOUT",
		"jobs.storage_timeout":       "JOBS_STORAGE_TIMEOUT",
		"jobs.stale_after":           "JOBS_STALE_AFTER",
		"jobs.sweep_cronspec":        "JOBS_SWEEP_CRONSPEC",
		"upload.max_bytes":           "UPLOAD_MAX_BYTES",
		"upload.allowed_types":       "UPLOAD_ALLOWED_TYPES",
		"audit.cronspec":             "AUDIT_CRONSPEC",
		"amqp.url":                   "AMQP_URL",
		"amqp.exchange":              "AMQP_EXCHANGE",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit", 10*1024*1024)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.books_per_hour", 10)

	// Storage defaults
	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket_name", "little-hero-books")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.presign_ttl", time.Hour)

	// Retention defaults
	v.SetDefault("retention.upload_days", 1)
	v.SetDefault("retention.processing_days", 7)
	v.SetDefault("retention.final_days", 0)

	// Illustration defaults
	v.SetDefault("illustration.provider", "synthetic")
	v.SetDefault("illustration.model", "gpt-image-1")
	v.SetDefault("illustration.size", "1024x1024")
	v.SetDefault("illustration.max_attempts", 3)
	v.SetDefault("illustration.retry_delay", 2*time.Second)
	v.SetDefault("illustration.parallelism", 3)

	// Job processing defaults
	v.SetDefault("jobs.store", "redis")
	v.SetDefault("jobs.queue", "books")
	v.SetDefault("jobs.concurrency", 10)
	v.SetDefault("jobs.max_retry", 5)
	v.SetDefault("jobs.lease_ttl", 2*time.Minute)
	v.SetDefault("jobs.illustration_timeout", 3*time.Minute)
	v.SetDefault("jobs.assembly_timeout", 2*time.Minute)
	v.SetDefault("jobs.thumbnail_timeout", 30*time.Second)
	v.SetDefault("jobs.storage_timeout", time.Minute)
	v.SetDefault("jobs.stale_after", 15*time.Minute)
	v.SetDefault("jobs.sweep_cronspec", "@every 5m")

	v.SetDefault("upload.max_bytes", 5*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/jpg", "image/png"})

	v.SetDefault("audit.cronspec", "@every 6h")
	v.SetDefault("amqp.exchange", "book_status")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
			BodyLimit: v.GetInt("server.body_limit"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			BooksPerHour: v.GetInt("ratelimit.books_per_hour"),
		},
		Storage: StorageConfig{
			Provider:        strings.ToLower(v.GetString("storage.provider")),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccountID:       v.GetString("storage.account_id"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			PresignTTL:      v.GetDuration("storage.presign_ttl"),
		},
		Retention: RetentionConfig{
			UploadDays:     v.GetInt("retention.upload_days"),
			ProcessingDays: v.GetInt("retention.processing_days"),
			FinalDays:      v.GetInt("retention.final_days"),
		},
		Illustration: IllustrationConfig{
			Provider:    strings.ToLower(v.GetString("illustration.provider")),
			APIKey:      v.GetString("illustration.api_key"),
			BaseURL:     v.GetString("illustration.base_url"),
			Model:       v.GetString("illustration.model"),
			Size:        v.GetString("illustration.size"),
			MaxAttempts: v.GetInt("illustration.max_attempts"),
			RetryDelay:  v.GetDuration("illustration.retry_delay"),
			Parallelism: v.GetInt("illustration.parallelism"),
		},
		Jobs: JobsConfig{
			Store:               strings.ToLower(v.GetString("jobs.store")),
			Queue:               v.GetString("jobs.queue"),
			Concurrency:         v.GetInt("jobs.concurrency"),
			MaxRetry:            v.GetInt("jobs.max_retry"),
			LeaseTTL:            v.GetDuration("jobs.lease_ttl"),
			IllustrationTimeout: v.GetDuration("jobs.illustration_timeout"),
			AssemblyTimeout:     v.GetDuration("jobs.assembly_timeout"),
			ThumbnailTimeout:    v.GetDuration("jobs.thumbnail_timeout"),
			StorageTimeout:      v.GetDuration("jobs.storage_timeout"),
			StaleAfter:          v.GetDuration("jobs.stale_after"),
			SweepCronspec:       v.GetString("jobs.sweep_cronspec"),
		},
		Upload: UploadConfig{
			MaxBytes:     v.GetInt64("upload.max_bytes"),
			AllowedTypes: v.GetStringSlice("upload.allowed_types"),
		},
		Audit: AuditConfig{
			Cronspec: v.GetString("audit.cronspec"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("amqp.url"),
			Exchange: v.GetString("amqp.exchange"),
		},
	}
}
