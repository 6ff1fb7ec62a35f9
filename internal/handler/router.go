package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/audiobox/internal/metrics"
	"github.com/hitoshi/audiobox/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	UserFinder        middleware.UserFinder
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	AdminEmail        string
	Logger            *slog.Logger
	Recorder          metrics.Recorder

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// サービス
	AuthService  AuthServiceInterface
	AudioService AudioServiceInterface
	AdminService AdminServiceInterface

	UploadMaxBytes int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Auth → RateLimit(General) → Superuser(/admin) → RateLimit(Upload)
//
// 認証ルート（/auth/*）とヘルスチェックは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger, recorder))
	r.Use(middleware.NewLoggingMiddleware(logger, recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, recorder)
	audioHandler := NewAudioHandler(deps.AudioService, deps.UploadMaxBytes)
	adminHandler := NewAdminHandler(deps.AdminService)
	userHandler := NewUserHandler()
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/token/refresh", authHandler.Refresh)
		r.Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, deps.UserFinder, recorder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/users/me", userHandler.Me)

		r.Route("/audio", func(r chi.Router) {
			upload := r.With(deps.RateLimiter.UploadMiddleware())
			upload.Post("/", audioHandler.Upload)
			upload.Post("/upload", audioHandler.Upload)

			r.Get("/", audioHandler.List)
			r.Get("/{id}", audioHandler.Get)
			r.Delete("/{id}", audioHandler.Delete)
		})

		// スーパーユーザー専用
		r.Route("/admin/users", func(r chi.Router) {
			r.Use(middleware.NewSuperuserMiddleware(deps.AdminEmail, recorder))

			r.Get("/", adminHandler.ListUsers)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", adminHandler.GetUser)
				r.Put("/", adminHandler.UpdateUser)
				r.Patch("/", adminHandler.UpdateUser)
				r.Delete("/", adminHandler.DeleteUser)
				r.Get("/audio", adminHandler.ListUserAudio)
			})
		})
	})

	return r
}
