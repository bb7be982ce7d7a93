// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string `env:"PORT" envDefault:"8080"`
	GinMode string `env:"GIN_MODE" envDefault:"debug"` // Ginの実行モード (debug, release, test)

	// データベース設定（sqlite:// または postgres://）
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://recipe-box.db"`

	// セッション設定
	SessionSecret      string        `env:"SESSION_SECRET"` // クッキー署名用の秘密鍵
	SessionMaxAge      time.Duration `env:"SESSION_MAX_AGE" envDefault:"12h"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	// CORS許可オリジン（カンマ区切り）
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173"`

	// パスワードハッシュのコスト
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// ログイン試行制限
	LoginMaxAttempts     int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginWindow          time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`
	LoginLockDuration    time.Duration `env:"LOGIN_LOCK_DURATION" envDefault:"10m"`
	LoginLimiterRedisURL string        `env:"LOGIN_LIMITER_REDIS_URL"` // 空の場合はメモリ上で管理

	// ログ設定
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive")
	}
	if c.LoginMaxAttempts < 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must not be negative")
	}

	// ローカル開発ではセッション鍵は任意（固定の開発用鍵を使う）
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 bytes in release mode")
		}
	}

	return nil
}

// SessionKey はクッキー署名に使う鍵を返します。
func (c *Config) SessionKey() []byte {
	if c.SessionSecret == "" {
		return []byte("recipe-box-development-session-key")
	}
	return []byte(c.SessionSecret)
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
