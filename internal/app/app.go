// Package app はlibmemberのコマンドとプロセス全体の依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/libmember/internal/auth"
	"github.com/hitoshi/libmember/internal/config"
	"github.com/hitoshi/libmember/internal/database"
	"github.com/hitoshi/libmember/internal/handler"
	"github.com/hitoshi/libmember/internal/logger"
	"github.com/hitoshi/libmember/internal/metrics"
	"github.com/hitoshi/libmember/internal/middleware"
	"github.com/hitoshi/libmember/internal/repository"
	"github.com/hitoshi/libmember/internal/security"
	"github.com/hitoshi/libmember/internal/user"
	"github.com/hitoshi/libmember/internal/worker/cleanup"
	"github.com/hitoshi/libmember/internal/worker/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// cleanupInterval は完了済みジョブのクリーンアップ間隔。
const cleanupInterval = 24 * time.Hour

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドが無い、または未知の場合はserveで起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(normalizeArgs(args))
	return root.Execute()
}

// newProvider は設定に応じたIdP実装を返す。
func newProvider(cfg *config.Config) (auth.Provider, error) {
	switch cfg.IdentityProvider {
	case config.ProviderSupabase:
		return auth.NewSupabaseProvider(auth.SupabaseConfig{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
			Timeout: cfg.ProviderTimeout,
		}), nil
	case config.ProviderLocal:
		return auth.NewLocalProvider(auth.LocalConfig{
			Secret:   []byte(cfg.LocalJWTSecret),
			TokenTTL: cfg.LocalTokenTTL,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider %q", cfg.IdentityProvider)
	}
}

// newRegistry はGo runtimeとプロセスのメトリクスを含むレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// openDatabase はDB接続を開き、到達可能であることを確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// serverDeps はAPIサーバーの依存関係。
type serverDeps struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildServer は全依存関係をワイヤリングしてルーターを構築する。
func buildServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*serverDeps, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	jobRepo := repository.NewPostgresSyncJobRepo(db)

	// 2. ドメインサービスの初期化
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	collector := metrics.NewCollector(reg)
	userService := user.NewService(userRepo, jobRepo, security.NewNameSanitizer())
	authService := auth.NewService(provider, userService, collector)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitAuth))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusCounter:     collector,
		AuthService:       authService,
		HealthChecker:     db,
		Gatherer:          reg,
	})

	return &serverDeps{handler: router, rateLimiter: rateLimiter}, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("identity_provider", cfg.IdentityProvider),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	deps, err := buildServer(cfg, db, newRegistry())
	if err != nil {
		return err
	}
	defer deps.rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      deps.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はctxがキャンセルされるまでserverを動かし、その後グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker は同期ジョブワーカーモードで起動する。
// reconcileワーカー、完了済みジョブのクリーンアップ、/metricsサーバーを動かす。
func runWorker(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting application",
		slog.String("command", string(CommandWorker)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 1. リポジトリとサービスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	jobRepo := repository.NewPostgresSyncJobRepo(db)
	userService := user.NewService(userRepo, jobRepo, security.NewNameSanitizer())

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. ワーカーとクリーンアップジョブの初期化
	worker := reconcile.NewWorker(jobRepo, userService, collector, slog.Default(), reconcile.Config{
		BatchSize:   cfg.ReconcileBatchSize,
		MaxAttempts: cfg.ReconcileMaxAttempts,
		Concurrency: cfg.ReconcileConcurrency,
	})
	cleanupJob := cleanup.NewCleanupJob(jobRepo, slog.Default(), cfg.JobRetentionDays)

	// 3. メトリクスサーバー
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsDone := make(chan error, 1)
	go func() {
		metricsDone <- serveUntilDone(ctx, metricsServer, "worker metrics server")
	}()

	go cleanupJob.Start(ctx, cleanupInterval)

	// ワーカーをメインgoroutineで実行（ブロッキング）
	worker.Start(ctx, cfg.ReconcileInterval)

	if err := <-metricsDone; err != nil {
		slog.Error("metrics server error", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runMigrateDown は直近steps件のマイグレーションを取り消す。
func runMigrateDown(cfg *config.Config, steps int) error {
	slog.Info("rolling back database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database rollback completed successfully")
	return nil
}

// runMigrateVersion は適用済みのマイグレーションバージョンを出力する。
func runMigrateVersion(w io.Writer, cfg *config.Config) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
	return err
}

// runHealthcheck は/healthエンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
