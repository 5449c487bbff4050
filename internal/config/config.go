package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Logging
		Remote
		Sync
		Cache
		Connectivity
		Tasks
		Authority
	}

	HTTP struct {
		Port int32
		Host string
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	Logging struct {
		File       string // Empty logs to stderr only
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
	Remote struct {
		BaseURL string
		Token   string
		Timeout time.Duration // Per-call timeout
	}
	Sync struct {
		BatchSize   int
		Concurrency int
		MaxRetries  int
		BackoffBase time.Duration
		BackoffCap  time.Duration
		Jitter      float64
		RateLimit   float64 // Remote calls per second, 0 disables
		RateBurst   int
		Schedule    string // Cron format or @every descriptor, empty disables the timer
	}
	Cache struct {
		QuizMaxAge        time.Duration
		FlashcardMaxAge   time.Duration
		EvictionSchedule  string
		RemoteReadTimeout time.Duration // Bound on an online read when a fresh copy is cached
	}
	Connectivity struct {
		ProbeInterval time.Duration
		ProbeTimeout  time.Duration
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Authority struct {
		Port     int32
		Host     string
		RedisURL string
		Token    string
		SeedPath string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)

	// Remote authority
	v.SetDefault("remote_base_url", "http://127.0.0.1:8189")
	v.SetDefault("remote_token", "")
	v.SetDefault("remote_timeout", "15s")

	// Sync coordinator
	v.SetDefault("sync_batch_size", 50)
	v.SetDefault("sync_concurrency", 4)
	v.SetDefault("sync_max_retries", 5)
	v.SetDefault("sync_backoff_base", "2s")
	v.SetDefault("sync_backoff_cap", "5m")
	v.SetDefault("sync_jitter", 0.2)
	v.SetDefault("sync_rate_limit", 10)
	v.SetDefault("sync_rate_burst", 5)
	v.SetDefault("sync_schedule", "@every 5m")

	// Content cache
	v.SetDefault("cache_quiz_max_age", "168h")      // 7 days
	v.SetDefault("cache_flashcard_max_age", "168h") // 7 days
	v.SetDefault("cache_eviction_schedule", "@every 1h")
	v.SetDefault("cache_remote_read_timeout", "2s")

	v.SetDefault("connectivity_probe_interval", "30s")
	v.SetDefault("connectivity_probe_timeout", "5s")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	// Reference authority
	v.SetDefault("authority_port", 8189)
	v.SetDefault("authority_host", "0.0.0.0")
	v.SetDefault("authority_redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("authority_token", "")
	v.SetDefault("authority_seed_path", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Logging: Logging{
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
		Remote: Remote{
			BaseURL: v.GetString("REMOTE_BASE_URL"),
			Token:   v.GetString("REMOTE_TOKEN"),
			Timeout: v.GetDuration("REMOTE_TIMEOUT"),
		},
		Sync: Sync{
			BatchSize:   v.GetInt("SYNC_BATCH_SIZE"),
			Concurrency: v.GetInt("SYNC_CONCURRENCY"),
			MaxRetries:  v.GetInt("SYNC_MAX_RETRIES"),
			BackoffBase: v.GetDuration("SYNC_BACKOFF_BASE"),
			BackoffCap:  v.GetDuration("SYNC_BACKOFF_CAP"),
			Jitter:      v.GetFloat64("SYNC_JITTER"),
			RateLimit:   v.GetFloat64("SYNC_RATE_LIMIT"),
			RateBurst:   v.GetInt("SYNC_RATE_BURST"),
			Schedule:    v.GetString("SYNC_SCHEDULE"),
		},
		Cache: Cache{
			QuizMaxAge:        v.GetDuration("CACHE_QUIZ_MAX_AGE"),
			FlashcardMaxAge:   v.GetDuration("CACHE_FLASHCARD_MAX_AGE"),
			EvictionSchedule:  v.GetString("CACHE_EVICTION_SCHEDULE"),
			RemoteReadTimeout: v.GetDuration("CACHE_REMOTE_READ_TIMEOUT"),
		},
		Connectivity: Connectivity{
			ProbeInterval: v.GetDuration("CONNECTIVITY_PROBE_INTERVAL"),
			ProbeTimeout:  v.GetDuration("CONNECTIVITY_PROBE_TIMEOUT"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Authority: Authority{
			Port:     v.GetInt32("AUTHORITY_PORT"),
			Host:     v.GetString("AUTHORITY_HOST"),
			RedisURL: v.GetString("AUTHORITY_REDIS_URL"),
			Token:    v.GetString("AUTHORITY_TOKEN"),
			SeedPath: v.GetString("AUTHORITY_SEED_PATH"),
		},
	}
}
