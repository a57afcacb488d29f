package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/feereminder/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface

	// 生徒一覧
	RecipientService RecipientServiceInterface
	MaxUploadSize    int64

	// テンプレート設定
	TemplateService TemplateServiceInterface

	// 送信とセッション
	CampaignRunner CampaignRunnerInterface
	Sessions       SessionDirectory
	Broadcaster    Broadcaster
	PushChannel    http.Handler

	// 静的ファイル（ダッシュボード）のディレクトリ。空の場合は配信しない。
	StaticDir string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Auth → RateLimit(General)
//
// 登録・ログイン、ヘルスチェック、メトリクス、プッシュチャネルは認証ミドルウェアの外に配置する。
// プッシュチャネルはアップグレード前に自身でトークンを検証する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	// CORS ミドルウェアを認証より前に適用（プリフライトを通す）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	recipientHandler := NewRecipientHandler(deps.RecipientService, deps.MaxUploadSize)
	configHandler := NewConfigHandler(deps.TemplateService)
	whatsappHandler := NewWhatsAppHandler(deps.CampaignRunner, deps.Sessions, deps.Broadcaster)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.PushChannel != nil {
		r.Handle("/ws", deps.PushChannel)
	}
	r.Post("/api/register", authHandler.Register)
	r.Post("/api/login", authHandler.Login)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/me", authHandler.Me)

		// 生徒一覧
		r.Post("/api/upload-excel", recipientHandler.UploadExcel)
		r.Get("/api/students", recipientHandler.ListStudents)
		r.Post("/api/schedule-reminder", recipientHandler.ScheduleReminder)

		// テンプレート設定
		r.Get("/api/config", configHandler.GetConfig)
		r.Put("/api/config", configHandler.UpdateConfig)

		// 送信（キャンペーン専用レート制限を追加）
		r.With(deps.RateLimiter.CampaignMiddleware()).Post("/api/send-reminders", whatsappHandler.SendReminders)
		r.Post("/api/send-message", whatsappHandler.SendMessage)

		// セッション（disconnect-whatsappは全ユーザーのセッションを切断する管理操作）
		r.Post("/api/disconnect-whatsapp", whatsappHandler.DisconnectAll)
		r.Get("/api/whatsapp/status", whatsappHandler.Status)
	})

	// /api配下の未定義ルートは静的ファイルにフォールバックさせない
	r.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	if deps.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(deps.StaticDir)))
	}

	return r
}
