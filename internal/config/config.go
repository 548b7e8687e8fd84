// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSessionSecretLength = 32

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// セッション設定
	SessionSecret        string // セッションCookie署名用の秘密鍵
	SessionEncryptionKey string // セッションCookie暗号化鍵（16/24/32バイト、空なら署名のみ）
	SessionMaxAgeHours   int    // セッションの最大有効期間（時間）
	SessionIdleMinutes   int    // 無操作タイムアウト（分）
	CSRFProtection       bool   // フォーム送信時の CSRF 検証を行うか

	// データベース設定
	DatabaseDriver string // sqlite または pgx
	DatabaseURL    string // DSN
	BcryptCost     int    // パスワードハッシュのコスト

	// Redis設定（空ならメモリ上のレート制限のみ、アクティビティ記録なし）
	RedisURL               string
	ActivityRetentionHours int

	// ログイン試行制限
	LoginMaxAttempts   int
	LoginWindowMinutes int
	LoginLockMinutes   int

	// ログ
	LogLevel string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8080"),

		// セッション設定
		SessionSecret:        getEnv("SESSION_SECRET", ""),
		SessionEncryptionKey: getEnv("SESSION_ENCRYPTION_KEY", ""),
		SessionMaxAgeHours:   getEnvAsInt("SESSION_MAX_AGE_HOURS", 12),
		SessionIdleMinutes:   getEnvAsInt("SESSION_IDLE_MINUTES", 30),
		CSRFProtection:       getEnvAsBool("CSRF_PROTECTION", true),

		// データベース設定
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "file:blogme.db?_pragma=busy_timeout(5000)"),
		BcryptCost:     getEnvAsInt("BCRYPT_COST", 10),

		// Redis設定
		RedisURL:               getEnv("REDIS_URL", ""),
		ActivityRetentionHours: getEnvAsInt("ACTIVITY_RETENTION_HOURS", 24*7),

		// ログイン試行制限（5回/15分で10分ロック）
		LoginMaxAttempts:   getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindowMinutes: getEnvAsInt("LOGIN_WINDOW_MINUTES", 15),
		LoginLockMinutes:   getEnvAsInt("LOGIN_LOCK_MINUTES", 10),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or pgx, got %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch len(c.SessionEncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("SESSION_ENCRYPTION_KEY must be 16, 24 or 32 bytes")
	}
	if c.LoginMaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be positive")
	}

	// ローカル開発ではセッション鍵は任意（起動時に警告のみ）
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < minSessionSecretLength {
			return fmt.Errorf("SESSION_SECRET must be at least %d bytes in release mode", minSessionSecretLength)
		}
	}

	return nil
}

// SessionMaxAge はセッションの最大有効期間を返します。
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeHours) * time.Hour
}

// SessionIdleTimeout は無操作タイムアウトを返します。
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// SlogLevel は LOG_LEVEL を slog.Level に変換します。
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
