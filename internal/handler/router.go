package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.TokenAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// MetricsHandler がnilの場合、/metricsは公開しない。
	MetricsHandler http.Handler
	// HealthPinger がnilの場合、/healthは常に200を返す。
	HealthPinger Pinger

	// サービス
	AuthService   AuthServiceInterface
	CourseService CourseServiceInterface
	Assistant     AssistantInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (Auth) → RateLimit(General) → RateLimit(Generation)
//
// 生成モデルを呼び出すルートには生成系のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, m))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	courseHandler := NewCourseHandler(deps.CourseService)
	assistantHandler := NewAssistantHandler(deps.Assistant)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthPinger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		// チャットとクイズは状態を持たないため認証なしで提供する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GenerationMiddleware())
			r.Post("/chat", assistantHandler.Chat)
			r.Get("/quiz", assistantHandler.Quiz)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/courses", courseHandler.ListCourses)
		r.Post("/api/remove_course", courseHandler.RemoveCourse)

		r.With(deps.RateLimiter.GenerationMiddleware()).Get("/api/courses/search", courseHandler.Search)
		r.With(deps.RateLimiter.GenerationMiddleware()).Get("/get_module", courseHandler.GetModule)
	})

	return r
}
