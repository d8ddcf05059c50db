package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// IdPの種別
const (
	ProviderSupabase = "supabase"
	ProviderLocal    = "local"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Identity Provider
	IdentityProvider string        `env:"IDENTITY_PROVIDER" envDefault:"supabase"`
	SupabaseURL      string        `env:"SUPABASE_URL"`
	SupabaseAnonKey  string        `env:"SUPABASE_ANON_KEY"`
	LocalJWTSecret   string        `env:"LOCAL_JWT_SECRET"`
	LocalTokenTTL    time.Duration `env:"LOCAL_TOKEN_TTL" envDefault:"1h"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Rate Limit（1分あたり、クライアントIPごと）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Reconcile worker
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileBatchSize   int           `env:"RECONCILE_BATCH_SIZE" envDefault:"50"`
	ReconcileMaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"10"`
	ReconcileConcurrency int           `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
	WorkerMetricsPort    string        `env:"WORKER_METRICS_PORT" envDefault:"9090"`

	// Cleanup
	JobRetentionDays int `env:"JOB_RETENTION_DAYS" envDefault:"14"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:5173"`
}

// ClientConfig はclientサブコマンド（Auth Client SDK）用の設定。
// サーバー側の必須環境変数を要求しない。
type ClientConfig struct {
	APIBaseURL       string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	SessionStorePath string `env:"SESSION_STORE_PATH"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合は、未設定のものをすべて列挙したエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.IdentityProvider = strings.ToLower(strings.TrimSpace(cfg.IdentityProvider))

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	switch cfg.IdentityProvider {
	case ProviderSupabase:
		if cfg.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if cfg.SupabaseAnonKey == "" {
			missing = append(missing, "SUPABASE_ANON_KEY")
		}
	case ProviderLocal:
		if cfg.LocalJWTSecret == "" {
			missing = append(missing, "LOCAL_JWT_SECRET")
		}
	default:
		return nil, fmt.Errorf("unsupported IDENTITY_PROVIDER %q (want %q or %q)",
			cfg.IdentityProvider, ProviderSupabase, ProviderLocal)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SupabaseURL = strings.TrimRight(cfg.SupabaseURL, "/")

	return cfg, nil
}

// LoadClient は環境変数からClientConfigを読み込む。
// SESSION_STORE_PATHが未設定の場合はユーザー設定ディレクトリ配下のsession.dbを使う。
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	if cfg.SessionStorePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		cfg.SessionStorePath = filepath.Join(dir, "libmember", "session.db")
	}

	return cfg, nil
}
