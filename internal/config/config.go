package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type AppConfig struct {
	HTTPPort    string
	PostgresDSN string
	RedisURL    string

	// ingress 层
	AuthToken    string
	Authenticate bool
	EnableHSTS   bool

	// 退避
	BackoffPolicy      string
	BackoffBase        time.Duration
	BackoffMaxDelay    time.Duration
	BackoffMaxAttempts int // 0 表示不设上限，瞬时错误无限重试

	// 派发
	TaskTimeout     time.Duration
	ClaimDuration   time.Duration
	NotifyThreshold time.Duration
	WorkerCount     int

	// 轮询与清理
	PollInterval time.Duration
	PollBatch    int
	GCSchedule   string
	GCRetention  time.Duration
}

func Load() AppConfig {
	cfg := AppConfig{
		HTTPPort:           getString("HTTP_PORT", "8080"),
		PostgresDSN:        getString("DATABASE_URL", "host=localhost port=5432 user=torque dbname=torque sslmode=disable"),
		RedisURL:           getString("REDIS_URL", "redis://localhost:6379"),
		AuthToken:          os.Getenv("AUTH_TOKEN"),
		Authenticate:       getBool("AUTHENTICATE", true),
		EnableHSTS:         getBool("ENABLE_HSTS", true),
		BackoffPolicy:      getString("BACKOFF_POLICY", "exponential"),
		BackoffBase:        getDuration("BACKOFF_BASE", time.Second),
		BackoffMaxDelay:    getDuration("BACKOFF_MAX_DELAY", 60*time.Second),
		BackoffMaxAttempts: getInt("BACKOFF_MAX_ATTEMPTS", 5),
		TaskTimeout:        getDuration("TASK_TIMEOUT", 30*time.Second),
		ClaimDuration:      getDuration("CLAIM_DURATION", 60*time.Second),
		NotifyThreshold:    getDuration("NOTIFY_THRESHOLD", time.Second),
		WorkerCount:        getInt("WORKER_CONCURRENCY", 4),
		PollInterval:       getDuration("POLL_INTERVAL", time.Second),
		PollBatch:          getInt("POLL_BATCH", 100),
		GCSchedule:         getString("GC_SCHEDULE", "@every 1m"),
		GCRetention:        getDuration("GC_RETENTION", time.Hour),
	}

	// 认领窗口必须大于外呼超时并留出提交余量，
	// 否则请求未结束认领已过期，会出现双重派发
	if cfg.ClaimDuration <= cfg.TaskTimeout {
		bumped := cfg.TaskTimeout + 30*time.Second
		log.Printf("CLAIM_DURATION %s <= TASK_TIMEOUT %s, bumped to %s", cfg.ClaimDuration, cfg.TaskTimeout, bumped)
		cfg.ClaimDuration = bumped
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return cfg
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
