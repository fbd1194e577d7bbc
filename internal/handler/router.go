package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insightlab/insight/internal/metrics"
	"github.com/insightlab/insight/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Recorder          metrics.Recorder
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 診断とロードマップ
	AssessmentService AssessmentServiceInterface
	RoadmapService    RoadmapServiceInterface

	// 死活監視
	StatusChecks   []StatusCheck
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (API) Session → RateLimit(General) → CSRF
//
// 認証ルート（/auth/*）と死活監視はセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	assessmentHandler := NewAssessmentHandler(deps.AssessmentService)
	roadmapHandler := NewRoadmapHandler(deps.RoadmapService)
	healthHandler := NewHealthHandler(deps.StatusChecks...)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	r.Get("/api/status", healthHandler.Status)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/current-user", authHandler.CurrentUser)
		r.Get("/logout", authHandler.Logout)
		// POSTのログアウトはセッションを破棄するためCSRF検証を通す
		r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/logout", authHandler.LogoutAPI)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/api/assessment", func(r chi.Router) {
			submit := r.With()
			if deps.RateLimiter != nil {
				// POST /api/assessment/submit - スコアリングは高コストなため送信専用の制限を追加
				submit = r.With(deps.RateLimiter.SubmitMiddleware())
			}
			submit.Post("/submit", assessmentHandler.Submit)

			r.Get("/all", assessmentHandler.List)
			r.Get("/latest", assessmentHandler.Latest)
			r.Get("/{id}", assessmentHandler.Get)
		})

		r.Route("/api/roadmap", func(r chi.Router) {
			r.Get("/", roadmapHandler.List)
			r.Patch("/{id}", roadmapHandler.UpdateStatus)
		})
	})

	return r
}
