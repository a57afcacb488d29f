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

	// Auth
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	// WhatsApp
	CredentialDir      string        // ユーザーごとのペアリング情報を保存するルートディレクトリ
	SendTimeout        time.Duration // 1通あたりの送信タイムアウト
	DefaultCountryCode string        // 国番号なしの電話番号に付与する国番号（数字のみ）

	// Upload
	UploadMaxSize int64

	// Reminder
	ReminderCron     string
	ReminderLeadDays int
	ReminderTimezone string

	// Rate Limit（req/min/user）
	RateLimitGeneral  int
	RateLimitCampaign int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	StaticDir  string

	// CORS
	CORSAllowedOrigin string
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

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.CredentialDir = getEnvString("CREDENTIAL_DIR", "whatsapp-auth")
	cfg.SendTimeout = getEnvDuration("SEND_TIMEOUT", 30*time.Second)
	cfg.DefaultCountryCode = getEnvString("DEFAULT_COUNTRY_CODE", "91")
	cfg.UploadMaxSize = getEnvInt64("UPLOAD_MAX_SIZE", 5242880)
	cfg.ReminderCron = getEnvString("REMINDER_CRON", "0 0 * * *")
	cfg.ReminderLeadDays = getEnvInt("REMINDER_LEAD_DAYS", 2)
	cfg.ReminderTimezone = getEnvString("REMINDER_TIMEZONE", "Local")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCampaign = getEnvInt("RATE_LIMIT_CAMPAIGN", 6)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3000")
	cfg.StaticDir = getEnvString("STATIC_DIR", "public")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ReminderLocation はリマインダー判定に使用するタイムゾーンを返す。
// 解釈できない値の場合はtime.Localを返す。
func (c *Config) ReminderLocation() *time.Location {
	if c.ReminderTimezone == "" || c.ReminderTimezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return time.Local
	}
	return loc
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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
