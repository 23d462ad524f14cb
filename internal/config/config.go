package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Encryption
	EncryptionKey string // base64マスター鍵。空なら保存時暗号化は無効。

	// Strava
	StravaClientID     string
	StravaClientSecret string
	StravaTokenURL     string
	StravaAPIBaseURL   string

	// Intervals.icu
	IntervalsBaseURL         string
	IntervalsRequestInterval time.Duration

	// Provider HTTP
	ProviderHTTPTimeout time.Duration

	// Sync
	SyncLookbackDays      int
	SyncPageSize          int
	SyncDetailFetchCap    int
	SyncDetailConcurrency int
	WellnessLookbackDays  int

	// Rate Limit（プロバイダ呼び出し予算）
	StravaLimit15Min    int
	StravaLimitDaily    int
	IntervalsLimit15Min int
	IntervalsLimitDaily int
	RateLimitThreshold  float64

	// Worker
	QueueTickInterval        time.Duration
	SyncPollInterval         time.Duration
	CleanupInterval          time.Duration
	QueueRetentionDays       int
	WorkerSkipAlertThreshold int

	// API
	RateLimitSyncTrigger int // 同期トリガーの1ユーザーあたり毎分リクエスト上限

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.EncryptionKey = getEnvString("ENCRYPTION_KEY", "")
	cfg.StravaClientID = getEnvString("STRAVA_CLIENT_ID", "")
	cfg.StravaClientSecret = getEnvString("STRAVA_CLIENT_SECRET", "")
	cfg.StravaTokenURL = getEnvString("STRAVA_TOKEN_URL", "https://www.strava.com/oauth/token")
	cfg.StravaAPIBaseURL = getEnvString("STRAVA_API_BASE_URL", "https://www.strava.com/api/v3")
	cfg.IntervalsBaseURL = getEnvString("INTERVALS_BASE_URL", "https://intervals.icu/api/v1")
	cfg.IntervalsRequestInterval = getEnvDuration("INTERVALS_REQUEST_INTERVAL", 250*time.Millisecond)
	cfg.ProviderHTTPTimeout = getEnvDuration("PROVIDER_HTTP_TIMEOUT", 30*time.Second)
	cfg.SyncLookbackDays = getEnvInt("SYNC_LOOKBACK_DAYS", 365)
	cfg.SyncPageSize = getEnvInt("SYNC_PAGE_SIZE", 200)
	cfg.SyncDetailFetchCap = getEnvInt("SYNC_DETAIL_FETCH_CAP", 30)
	cfg.SyncDetailConcurrency = getEnvInt("SYNC_DETAIL_CONCURRENCY", 4)
	cfg.WellnessLookbackDays = getEnvInt("WELLNESS_LOOKBACK_DAYS", 90)
	cfg.StravaLimit15Min = getEnvInt("STRAVA_LIMIT_15MIN", 200)
	cfg.StravaLimitDaily = getEnvInt("STRAVA_LIMIT_DAILY", 2000)
	cfg.IntervalsLimit15Min = getEnvInt("INTERVALS_LIMIT_15MIN", 200)
	cfg.IntervalsLimitDaily = getEnvInt("INTERVALS_LIMIT_DAILY", 2000)
	cfg.RateLimitThreshold = getEnvFloat("RATE_LIMIT_THRESHOLD", 0.9)
	cfg.QueueTickInterval = getEnvDuration("QUEUE_TICK_INTERVAL", time.Minute)
	cfg.SyncPollInterval = getEnvDuration("SYNC_POLL_INTERVAL", 6*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.QueueRetentionDays = getEnvInt("QUEUE_RETENTION_DAYS", 30)
	cfg.WorkerSkipAlertThreshold = getEnvInt("WORKER_SKIP_ALERT_THRESHOLD", 10)
	cfg.RateLimitSyncTrigger = getEnvInt("RATE_LIMIT_SYNC_TRIGGER", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// StravaConfigured はStrava連携に必要なアプリ設定が揃っているかを返す。
func (c *Config) StravaConfigured() bool {
	return c.StravaClientID != "" && c.StravaClientSecret != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
