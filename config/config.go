package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Environment string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	// AllowedOrigins restricts websocket upgrades; empty allows any origin
	AllowedOrigins []string

	// Firebase
	FirebaseCredentialsPath string

	// Twilio
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Email: smtp, postmark or none
	EmailProvider        string
	SMTPHost             string
	SMTPPort             string
	SMTPUsername         string
	SMTPPassword         string
	FromEmail            string
	FromName             string
	PostmarkServerToken  string
	PostmarkAccountToken string

	// Scheduler
	SchedulerTimezone   string
	ProcessDueSchedule  string
	CleanupSchedule     string
	DigestSchedule      string
	DigestEnabled       bool
	DispatchBatchSize   int
	DispatchConcurrency int
	JobLockTTL          time.Duration

	// Delivery
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	ChannelTimeout    time.Duration
	NotificationTTL   time.Duration
	DigestWindow      time.Duration
	AnalyticsCacheTTL time.Duration
}

func Load() *Config {
	return &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "mongodb://localhost:27017/farmora"),
		RedisURL:       getEnv("REDIS_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),

		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),

		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: getEnv("TWILIO_PHONE_NUMBER", ""),

		EmailProvider:        strings.ToLower(getEnv("EMAIL_PROVIDER", "smtp")),
		SMTPHost:             getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:             getEnv("SMTP_PORT", "587"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		FromEmail:            getEnv("FROM_EMAIL", "alerts@farmora.app"),
		FromName:             getEnv("FROM_NAME", "Farmora"),
		PostmarkServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
		PostmarkAccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),

		SchedulerTimezone:   getEnv("SCHEDULER_TIMEZONE", "Local"),
		ProcessDueSchedule:  getEnv("PROCESS_DUE_SCHEDULE", "@every 5m"),
		CleanupSchedule:     getEnv("CLEANUP_SCHEDULE", "0 3 * * *"),
		DigestSchedule:      getEnv("DIGEST_SCHEDULE", "0 7 * * *"),
		DigestEnabled:       getEnvAsBool("DIGEST_ENABLED", true),
		DispatchBatchSize:   getEnvAsInt("DISPATCH_BATCH_SIZE", 500),
		DispatchConcurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 8),
		JobLockTTL:          getEnvAsDuration("JOB_LOCK_TTL", 10*time.Minute),

		RetryMaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    getEnvAsDuration("RETRY_BASE_DELAY", 2*time.Second),
		ChannelTimeout:    getEnvAsDuration("CHANNEL_TIMEOUT", 30*time.Second),
		NotificationTTL:   getEnvAsDuration("NOTIFICATION_TTL", 24*time.Hour),
		DigestWindow:      getEnvAsDuration("DIGEST_WINDOW", 24*time.Hour),
		AnalyticsCacheTTL: getEnvAsDuration("ANALYTICS_CACHE_TTL", time.Minute),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location resolves SchedulerTimezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.SchedulerTimezone == "" || c.SchedulerTimezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.SchedulerTimezone)
	if err != nil {
		logrus.Warnf("Unknown SCHEDULER_TIMEZONE %q, using local time: %v", c.SchedulerTimezone, err)
		return time.Local
	}
	return loc
}

// InitRedis returns nil when no REDIS_URL is configured. Redis only backs the
// analytics cache and the job lock, both of which have in-process fallbacks.
func InitRedis(cfg *Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.Warnf("Invalid integer for %s, using %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logrus.Warnf("Invalid duration for %s, using %s", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
