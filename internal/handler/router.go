package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/libmember/internal/metrics"
	"github.com/hitoshi/libmember/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusCounter     middleware.StatusCounter

	// 認証
	AuthService AuthServiceInterface

	// 運用エンドポイント
	HealthChecker Pinger
	Gatherer      prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → Logging → CORS → StatusMetrics
//
// /auth/* には加えてクライアントIPごとのレート制限とベアラートークン抽出を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusCounter != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusCounter))
	}

	authHandler := NewAuthHandler(deps.AuthService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// 運用エンドポイント
	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// 認証ルート
	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewBearerTokenMiddleware())

		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/user", authHandler.User)
	})

	return r
}
