// Package config loads sercha-sync configuration from a file, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Connectors ConnectorsConfig `mapstructure:"connectors"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	QueueDSN    string `mapstructure:"queue_dsn"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Sources     string `mapstructure:"sources"`
}

type WorkersConfig struct {
	Sync    int `mapstructure:"sync"`
	Process int `mapstructure:"process"`
}

type SyncConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	Lease       time.Duration `mapstructure:"lease"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
}

type PipelineConfig struct {
	NormalizeURL string        `mapstructure:"normalize_url"`
	ChunkURL     string        `mapstructure:"chunk_url"`
	EmbedURL     string        `mapstructure:"embed_url"`
	GraphURL     string        `mapstructure:"graph_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`

	// Normalizer and Chunker are "service" or "local".
	Normalizer   string `mapstructure:"normalizer"`
	Chunker      string `mapstructure:"chunker"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`

	// Embedder is "service" or "ollama".
	Embedder    string `mapstructure:"embedder"`
	OllamaURL   string `mapstructure:"ollama_url"`
	OllamaModel string `mapstructure:"ollama_model"`
}

type AuthConfig struct {
	ServiceURL string            `mapstructure:"service_url"`
	APIKey     string            `mapstructure:"api_key"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Tokens     map[string]string `mapstructure:"tokens"`
}

type RetentionConfig struct {
	Mode          string        `mapstructure:"mode"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	Backend       string        `mapstructure:"backend"`
	MinIO         ObjectConfig  `mapstructure:"minio"`
	S3            ObjectConfig  `mapstructure:"s3"`
}

type ObjectConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

type ConnectorsConfig struct {
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	CallbackBaseURL string        `mapstructure:"callback_base_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	JobCleanup    time.Duration `mapstructure:"job_cleanup"`
	JobRetention  time.Duration `mapstructure:"job_retention"`
	StaleChunks   time.Duration `mapstructure:"stale_chunks"`
	WebhookReplay time.Duration `mapstructure:"webhook_replay"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Rescan   time.Duration `mapstructure:"rescan"`
}

// Load reads configuration. configPath may be empty, in which case
// sercha-sync.{toml,yaml} is looked up in ./configs and the working directory.
// A missing file is not an error.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sercha-sync")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	_ = v.BindEnv("storage.queue_dsn", "QUEUE_DSN")
	_ = v.BindEnv("storage.postgres_dsn", "DATABASE_URL")
	_ = v.BindEnv("pipeline.api_key", "PIPELINE_INTERNAL_API_KEY")
	_ = v.BindEnv("auth.service_url", "AUTH_SERVICE_URL")
	_ = v.BindEnv("auth.api_key", "AUTH_INTERNAL_API_KEY")
	_ = v.BindEnv("auth.tokens.github", "GITHUB_TOKEN")
	_ = v.BindEnv("auth.tokens.gitlab", "GITLAB_TOKEN")
	_ = v.BindEnv("auth.tokens.bitbucket", "BITBUCKET_TOKEN")
	_ = v.BindEnv("auth.tokens.gdrive", "GDRIVE_TOKEN")
	_ = v.BindEnv("auth.tokens.dropbox", "DROPBOX_TOKEN")
	_ = v.BindEnv("retention.minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("retention.minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("retention.minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("retention.minio.use_ssl", "MINIO_USE_SSL")
	_ = v.BindEnv("retention.s3.access_key", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("retention.s3.secret_key", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("retention.s3.region", "AWS_REGION")
	_ = v.BindEnv("connectors.callback_base_url", "WEBHOOK_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_body_bytes", 5<<20)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.queue_dsn", "")
	v.SetDefault("storage.sources", "")

	v.SetDefault("workers.sync", 2)
	v.SetDefault("workers.process", 8)

	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.concurrency", 10)
	v.SetDefault("sync.max_attempts", domain.DefaultMaxAttempts)
	v.SetDefault("sync.backoff_base", 30*time.Second)
	v.SetDefault("sync.lease", 5*time.Minute)
	v.SetDefault("sync.heartbeat", time.Minute)

	v.SetDefault("pipeline.normalize_url", "http://localhost:8001")
	v.SetDefault("pipeline.chunk_url", "http://localhost:8002")
	v.SetDefault("pipeline.embed_url", "http://localhost:8003")
	v.SetDefault("pipeline.graph_url", "http://localhost:8004")
	v.SetDefault("pipeline.timeout", 60*time.Second)
	v.SetDefault("pipeline.normalizer", "service")
	v.SetDefault("pipeline.chunker", "service")
	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.chunk_overlap", 200)
	v.SetDefault("pipeline.embedder", "service")
	v.SetDefault("pipeline.ollama_url", "http://localhost:11434")
	v.SetDefault("pipeline.ollama_model", "nomic-embed-text")

	v.SetDefault("auth.service_url", "")
	v.SetDefault("auth.timeout", 10*time.Second)

	v.SetDefault("retention.mode", string(domain.RetentionEphemeral))
	v.SetDefault("retention.ttl", 7*24*time.Hour)
	v.SetDefault("retention.sweep_interval", time.Hour)
	v.SetDefault("retention.stale_after", 24*time.Hour)
	v.SetDefault("retention.backend", "")
	v.SetDefault("retention.minio.endpoint", "localhost:9000")
	v.SetDefault("retention.minio.bucket", "sercha-chunks")
	v.SetDefault("retention.s3.bucket", "sercha-chunks")
	v.SetDefault("retention.s3.region", "us-east-1")

	v.SetDefault("connectors.download_timeout", 60*time.Second)
	v.SetDefault("connectors.callback_base_url", "")
	v.SetDefault("connectors.poll_interval", 15*time.Minute)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.job_cleanup", 24*time.Hour)
	v.SetDefault("scheduler.job_retention", 7*24*time.Hour)
	v.SetDefault("scheduler.stale_chunks", time.Hour)
	v.SetDefault("scheduler.webhook_replay", 5*time.Minute)

	v.SetDefault("watch.debounce", 2*time.Second)
	v.SetDefault("watch.rescan", time.Minute)
}

// Validate rejects settings that cannot start the service.
func (c *Config) Validate() error {
	if _, err := c.RetentionMode(); err != nil {
		return err
	}
	if c.Workers.Sync <= 0 || c.Workers.Process <= 0 {
		return fmt.Errorf("%w: worker counts must be positive", domain.ErrInvalidInput)
	}
	for _, stage := range []struct{ name, value string }{
		{"normalizer", c.Pipeline.Normalizer},
		{"chunker", c.Pipeline.Chunker},
	} {
		switch strings.ToLower(stage.value) {
		case "", "service", "local":
		default:
			return fmt.Errorf("%w: unknown %s %q", domain.ErrInvalidInput, stage.name, stage.value)
		}
	}
	switch strings.ToLower(c.Pipeline.Embedder) {
	case "", "service", "ollama":
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidInput, c.Pipeline.Embedder)
	}
	return nil
}

// RetentionMode parses retention.mode.
func (c *Config) RetentionMode() (domain.RetentionMode, error) {
	return domain.ParseRetentionMode(c.Retention.Mode)
}

// SourcesPath returns the sources manifest path, or "" when none is set.
func (c *Config) SourcesPath() string {
	if c.Storage.Sources == "" {
		return ""
	}
	return filepath.Clean(c.Storage.Sources)
}

// CallbackURL returns the webhook callback for a provider, or "" when no
// public base URL is configured.
func (c *Config) CallbackURL(provider domain.ProviderType) string {
	base := strings.TrimRight(c.Connectors.CallbackBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/" + string(provider)
}

// SchedulerTasks converts the scheduler section into task configuration.
func (c *Config) SchedulerTasks() domain.SchedulerConfig {
	task := func(interval time.Duration) domain.TaskConfig {
		return domain.TaskConfig{Enabled: interval > 0, Interval: interval}
	}
	return domain.SchedulerConfig{
		Enabled: c.Scheduler.Enabled,
		TaskConfigs: map[string]domain.TaskConfig{
			domain.TaskIDTTLSweep:      task(c.Retention.SweepInterval),
			domain.TaskIDJobCleanup:    task(c.Scheduler.JobCleanup),
			domain.TaskIDStaleChunks:   task(c.Scheduler.StaleChunks),
			domain.TaskIDPollSync:      task(c.Connectors.PollInterval),
			domain.TaskIDWebhookReplay: task(c.Scheduler.WebhookReplay),
		},
	}
}
