package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feereminder/internal/auth"
	"github.com/hitoshi/feereminder/internal/campaign"
	"github.com/hitoshi/feereminder/internal/config"
	"github.com/hitoshi/feereminder/internal/database"
	"github.com/hitoshi/feereminder/internal/handler"
	"github.com/hitoshi/feereminder/internal/logger"
	"github.com/hitoshi/feereminder/internal/metrics"
	"github.com/hitoshi/feereminder/internal/middleware"
	"github.com/hitoshi/feereminder/internal/pushchannel"
	"github.com/hitoshi/feereminder/internal/recipient"
	"github.com/hitoshi/feereminder/internal/repository"
	"github.com/hitoshi/feereminder/internal/security"
	"github.com/hitoshi/feereminder/internal/session"
	"github.com/hitoshi/feereminder/internal/settings"
	"github.com/hitoshi/feereminder/internal/whatsapp"
	"github.com/hitoshi/feereminder/internal/worker/reminder"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveモードで稼働する依存関係一式。
type components struct {
	router      http.Handler
	registry    *session.Registry
	trigger     *reminder.Trigger
	rateLimiter *middleware.RateLimiter
}

// buildComponents はDB接続と設定から全依存関係をワイヤリングする。
func buildComponents(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	// 1. メトリクス
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	recipientRepo := repository.NewPostgresRecipientRepo(db)
	templateRepo := repository.NewPostgresTemplateRepo(db)

	// 3. 認証
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewService(userRepo, tokens, auth.ServiceConfig{BcryptCost: cfg.BcryptCost})

	// 4. プッシュチャネルとセッション管理
	hub := pushchannel.NewHub(log)
	registry := session.NewRegistry(session.RegistryConfig{
		CredentialRoot: cfg.CredentialDir,
		Factory:        whatsapp.NewFactory(log),
		Notifier:       hub,
		Logger:         log,
		Metrics:        collector,
		SendTimeout:    cfg.SendTimeout,
	})

	// 5. ドメインサービス
	sanitizer := security.NewTextSanitizer()
	recipientService := recipient.NewService(recipientRepo, recipient.NewImporter(cfg.DefaultCountryCode, sanitizer))
	templateService := settings.NewService(templateRepo, sanitizer)
	runner := campaign.NewRunner(campaign.Config{
		Recipients:    recipientRepo,
		Templates:     templateRepo,
		Sessions:      campaign.NewRegistryLookup(registry),
		Notifier:      hub,
		Metrics:       collector,
		Logger:        log,
		AddressDomain: whatsapp.AddressDomain,
		LeadDays:      cfg.ReminderLeadDays,
	})

	// 6. 日次スケジュール
	trigger, err := reminder.NewTrigger(runner, reminder.Config{
		Spec:     cfg.ReminderCron,
		Location: cfg.ReminderLocation(),
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder trigger: %w", err)
	}

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCampaign),
	)
	deps := &handler.RouterDeps{
		TokenVerifier:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(promRegistry),

		AuthService: authService,

		RecipientService: recipientService,
		MaxUploadSize:    cfg.UploadMaxSize,

		TemplateService: templateService,

		CampaignRunner: runner,
		Sessions:       handler.NewSessionDirectoryAdapter(registry),
		Broadcaster:    hub,
		PushChannel: pushchannel.NewHandler(hub, registry, authService, log, pushchannel.HandlerConfig{
			AllowedOrigins: []string{cfg.CORSAllowedOrigin},
		}),

		StaticDir: cfg.StaticDir,
	}

	return &components{
		router:      handler.NewRouter(deps),
		registry:    registry,
		trigger:     trigger,
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと日次スケジュールを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	if err := os.MkdirAll(cfg.CredentialDir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	// 2. 依存関係のワイヤリング
	c, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer c.rateLimiter.Stop()

	// 3. HTTPサーバーの起動
	// 送信キャンペーンとWebSocketは長時間になるため、書き込みタイムアウトは設けない。
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.trigger.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}
	slog.Info("shutting down API server...")

	return shutdown(server, c)
}

// shutdown はHTTPサーバー、日次スケジュール、セッションの順に停止する。
// 各段階の失敗は記録し、後続の停止処理は継続する。
func shutdown(server *http.Server, c *components) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", slog.String("error", err.Error()))
		firstErr = fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := c.trigger.Stop(ctx); err != nil {
		slog.Error("reminder trigger shutdown failed", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = fmt.Errorf("reminder trigger shutdown failed: %w", err)
		}
	}
	if err := c.registry.Shutdown(ctx); err != nil {
		// 破棄に失敗したセッションもRegistryからは除去済み
		slog.Warn("some sessions failed to tear down", slog.String("error", err.Error()))
	}

	if firstErr == nil {
		slog.Info("API server stopped gracefully")
	}
	return firstErr
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
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
