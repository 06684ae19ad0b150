package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	WhatsApp     WhatsAppConfig
	Webhook      WebhookConfig
	Media        MediaConfig
	Queue        QueueConfig
	Templates    TemplateConfig
	Conversation ConversationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	BodyLimitBytes        int
}

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN             string
	ApplicationName string
	MaxConns        int32
	MinConns        int32
	RunMigrations   bool
	ConnMaxIdleSec  int32
	ConnMaxLifeSec  int32
}

// RedisConfig holds Redis connection values. Disabled selects the in-memory cache and broker.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string
	Service string
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	Issuer                string
	AccessTokenTTLMinutes int
}

// WhatsAppConfig holds Cloud API credentials and client limits.
type WhatsAppConfig struct {
	BaseURL           string
	APIVersion        string
	AccessToken       string
	PhoneNumberID     string
	BusinessAccountID string
	AppSecret         string
	VerifyToken       string
	TimeoutSeconds    int
	RateLimitQPS      float64
	RateLimitBurst    int
}

// WebhookConfig sizes the asynchronous webhook processing pool.
type WebhookConfig struct {
	Workers              int
	QueueSize            int
	SubmitTimeoutMillis  int
	ProcessTimeoutSecond int
}

// MediaConfig controls media storage and the per-type limits.
type MediaConfig struct {
	StorageRoot        string
	BulkConcurrency    int
	CleanupBatchSize   int
	MaxImageBytes      int64
	MaxVideoBytes      int64
	MaxAudioBytes      int64
	MaxDocumentBytes   int64
	DownloadMaxBytes   int64
	DefaultRetention   int
	UploadLeaseSeconds int
}

// QueueConfig controls broker consumers and the retry policy.
type QueueConfig struct {
	Prefix                   string
	ConsumersPerQueue        int
	MaxRetries               int
	VisibilityTimeoutSeconds int
	RetryBaseMillis          int
	RetryMaxSeconds          int
}

// TemplateConfig controls template cache behavior.
type TemplateConfig struct {
	CacheTTLSeconds int
}

// ConversationConfig controls the session window.
type ConversationConfig struct {
	WindowHours          int
	SweepIntervalSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Name:                  v.GetString("APP_NAME"),
			Env:                   v.GetString("APP_ENV"),
			Host:                  v.GetString("APP_HOST"),
			Port:                  v.GetString("APP_PORT"),
			Version:               v.GetString("APP_VERSION"),
			RequestTimeoutSeconds: v.GetInt("HTTP_REQUEST_TIMEOUT_SECONDS"),
			BodyLimitBytes:        v.GetInt("HTTP_BODY_LIMIT_BYTES"),
		},
		Postgres: PostgresConfig{
			DSN:             v.GetString("POSTGRES_DSN"),
			ApplicationName: v.GetString("APP_NAME"),
			MaxConns:        v.GetInt32("POSTGRES_MAX_CONNS"),
			MinConns:        v.GetInt32("POSTGRES_MIN_CONNS"),
			RunMigrations:   v.GetBool("POSTGRES_RUN_MIGRATIONS"),
			ConnMaxIdleSec:  v.GetInt32("POSTGRES_CONN_MAX_IDLE_SECONDS"),
			ConnMaxLifeSec:  v.GetInt32("POSTGRES_CONN_MAX_LIFE_SECONDS"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Logger: LoggerConfig{
			Level:   v.GetString("LOG_LEVEL"),
			Format:  v.GetString("LOG_FORMAT"),
			Service: v.GetString("APP_NAME"),
		},
		Auth: AuthConfig{
			JWTSecret:             v.GetString("AUTH_JWT_SECRET"),
			Issuer:                v.GetString("AUTH_ISSUER"),
			AccessTokenTTLMinutes: v.GetInt("AUTH_ACCESS_TOKEN_TTL_MINUTES"),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:           v.GetString("WHATSAPP_BASE_URL"),
			APIVersion:        v.GetString("WHATSAPP_API_VERSION"),
			AccessToken:       v.GetString("WHATSAPP_ACCESS_TOKEN"),
			PhoneNumberID:     v.GetString("WHATSAPP_PHONE_NUMBER_ID"),
			BusinessAccountID: v.GetString("WHATSAPP_BUSINESS_ACCOUNT_ID"),
			AppSecret:         v.GetString("WHATSAPP_APP_SECRET"),
			VerifyToken:       v.GetString("WHATSAPP_VERIFY_TOKEN"),
			TimeoutSeconds:    v.GetInt("WHATSAPP_TIMEOUT_SECONDS"),
			RateLimitQPS:      v.GetFloat64("WHATSAPP_RATE_LIMIT_QPS"),
			RateLimitBurst:    v.GetInt("WHATSAPP_RATE_LIMIT_BURST"),
		},
		Webhook: WebhookConfig{
			Workers:              v.GetInt("WEBHOOK_WORKERS"),
			QueueSize:            v.GetInt("WEBHOOK_QUEUE_SIZE"),
			SubmitTimeoutMillis:  v.GetInt("WEBHOOK_SUBMIT_TIMEOUT_MS"),
			ProcessTimeoutSecond: v.GetInt("WEBHOOK_PROCESS_TIMEOUT_SECONDS"),
		},
		Media: MediaConfig{
			StorageRoot:        v.GetString("MEDIA_STORAGE_ROOT"),
			BulkConcurrency:    v.GetInt("MEDIA_BULK_CONCURRENCY"),
			CleanupBatchSize:   v.GetInt("MEDIA_CLEANUP_BATCH_SIZE"),
			MaxImageBytes:      v.GetInt64("MEDIA_MAX_IMAGE_BYTES"),
			MaxVideoBytes:      v.GetInt64("MEDIA_MAX_VIDEO_BYTES"),
			MaxAudioBytes:      v.GetInt64("MEDIA_MAX_AUDIO_BYTES"),
			MaxDocumentBytes:   v.GetInt64("MEDIA_MAX_DOCUMENT_BYTES"),
			DownloadMaxBytes:   v.GetInt64("MEDIA_DOWNLOAD_MAX_BYTES"),
			DefaultRetention:   v.GetInt("MEDIA_DEFAULT_RETENTION_DAYS"),
			UploadLeaseSeconds: v.GetInt("MEDIA_UPLOAD_LEASE_SECONDS"),
		},
		Queue: QueueConfig{
			Prefix:                   v.GetString("QUEUE_PREFIX"),
			ConsumersPerQueue:        v.GetInt("QUEUE_CONSUMERS_PER_QUEUE"),
			MaxRetries:               v.GetInt("QUEUE_MAX_RETRIES"),
			VisibilityTimeoutSeconds: v.GetInt("QUEUE_VISIBILITY_TIMEOUT_SECONDS"),
			RetryBaseMillis:          v.GetInt("QUEUE_RETRY_BASE_MS"),
			RetryMaxSeconds:          v.GetInt("QUEUE_RETRY_MAX_SECONDS"),
		},
		Templates: TemplateConfig{
			CacheTTLSeconds: v.GetInt("TEMPLATE_CACHE_TTL_SECONDS"),
		},
		Conversation: ConversationConfig{
			WindowHours:          v.GetInt("CONVERSATION_WINDOW_HOURS"),
			SweepIntervalSeconds: v.GetInt("CONVERSATION_SWEEP_INTERVAL_SECONDS"),
		},
	}

	if cfg.Queue.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid QUEUE_MAX_RETRIES: %d", cfg.Queue.MaxRetries)
	}
	if cfg.Conversation.WindowHours <= 0 {
		return nil, fmt.Errorf("invalid CONVERSATION_WINDOW_HOURS: %d", cfg.Conversation.WindowHours)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "whatsapp-messaging-service")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_HOST", "0.0.0.0")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("HTTP_REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("HTTP_BODY_LIMIT_BYTES", 110*1024*1024)

	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("POSTGRES_MAX_CONNS", 10)
	v.SetDefault("POSTGRES_MIN_CONNS", 2)
	v.SetDefault("POSTGRES_RUN_MIGRATIONS", true)
	v.SetDefault("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)
	v.SetDefault("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTH_JWT_SECRET", "dev-secret")
	v.SetDefault("AUTH_ISSUER", "")
	v.SetDefault("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60)

	v.SetDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com")
	v.SetDefault("WHATSAPP_API_VERSION", "v19.0")
	v.SetDefault("WHATSAPP_ACCESS_TOKEN", "")
	v.SetDefault("WHATSAPP_PHONE_NUMBER_ID", "")
	v.SetDefault("WHATSAPP_BUSINESS_ACCOUNT_ID", "")
	v.SetDefault("WHATSAPP_APP_SECRET", "")
	v.SetDefault("WHATSAPP_VERIFY_TOKEN", "")
	v.SetDefault("WHATSAPP_TIMEOUT_SECONDS", 15)
	v.SetDefault("WHATSAPP_RATE_LIMIT_QPS", 20.0)
	v.SetDefault("WHATSAPP_RATE_LIMIT_BURST", 40)

	v.SetDefault("WEBHOOK_WORKERS", 8)
	v.SetDefault("WEBHOOK_QUEUE_SIZE", 256)
	v.SetDefault("WEBHOOK_SUBMIT_TIMEOUT_MS", 2000)
	v.SetDefault("WEBHOOK_PROCESS_TIMEOUT_SECONDS", 30)

	v.SetDefault("MEDIA_STORAGE_ROOT", "./data/media")
	v.SetDefault("MEDIA_BULK_CONCURRENCY", 4)
	v.SetDefault("MEDIA_CLEANUP_BATCH_SIZE", 100)
	v.SetDefault("MEDIA_MAX_IMAGE_BYTES", 5*1024*1024)
	v.SetDefault("MEDIA_MAX_VIDEO_BYTES", 16*1024*1024)
	v.SetDefault("MEDIA_MAX_AUDIO_BYTES", 16*1024*1024)
	v.SetDefault("MEDIA_MAX_DOCUMENT_BYTES", 100*1024*1024)
	v.SetDefault("MEDIA_DOWNLOAD_MAX_BYTES", 100*1024*1024)
	v.SetDefault("MEDIA_DEFAULT_RETENTION_DAYS", 30)
	v.SetDefault("MEDIA_UPLOAD_LEASE_SECONDS", 300)

	v.SetDefault("QUEUE_PREFIX", "wa")
	v.SetDefault("QUEUE_CONSUMERS_PER_QUEUE", 2)
	v.SetDefault("QUEUE_MAX_RETRIES", 5)
	v.SetDefault("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 300)
	v.SetDefault("QUEUE_RETRY_BASE_MS", 500)
	v.SetDefault("QUEUE_RETRY_MAX_SECONDS", 300)

	v.SetDefault("TEMPLATE_CACHE_TTL_SECONDS", 3600)

	v.SetDefault("CONVERSATION_WINDOW_HOURS", 24)
	v.SetDefault("CONVERSATION_SWEEP_INTERVAL_SECONDS", 900)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the per-request HTTP client timeout.
func (w WhatsAppConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// SubmitTimeout is how long an accepted webhook may wait for a free pool slot.
func (w WebhookConfig) SubmitTimeout() time.Duration {
	return time.Duration(w.SubmitTimeoutMillis) * time.Millisecond
}

// UploadLease is how long a pending or uploading record may sit untouched
// before it is treated as abandoned.
func (m MediaConfig) UploadLease() time.Duration {
	if m.UploadLeaseSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.UploadLeaseSeconds) * time.Second
}

// ProcessTimeout bounds the processing of one webhook delivery.
func (w WebhookConfig) ProcessTimeout() time.Duration {
	if w.ProcessTimeoutSecond <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.ProcessTimeoutSecond) * time.Second
}

// VisibilityTimeout is how long a delivered message may stay unacknowledged.
func (q QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSeconds) * time.Second
}

// RetryBase is the first redelivery delay.
func (q QueueConfig) RetryBase() time.Duration {
	return time.Duration(q.RetryBaseMillis) * time.Millisecond
}

// RetryMax caps the redelivery delay.
func (q QueueConfig) RetryMax() time.Duration {
	return time.Duration(q.RetryMaxSeconds) * time.Second
}

// CacheTTL returns the template cache TTL.
func (t TemplateConfig) CacheTTL() time.Duration {
	if t.CacheTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(t.CacheTTLSeconds) * time.Second
}

// SweepInterval returns the expiry sweep period; zero disables the sweep.
func (c ConversationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
