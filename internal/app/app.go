package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/supabase-community/supabase-go"

	"github.com/hitoshi/learnify/internal/auth"
	"github.com/hitoshi/learnify/internal/blobstore"
	"github.com/hitoshi/learnify/internal/collection"
	"github.com/hitoshi/learnify/internal/config"
	"github.com/hitoshi/learnify/internal/course"
	"github.com/hitoshi/learnify/internal/database"
	"github.com/hitoshi/learnify/internal/generator"
	"github.com/hitoshi/learnify/internal/handler"
	"github.com/hitoshi/learnify/internal/logger"
	"github.com/hitoshi/learnify/internal/metrics"
	"github.com/hitoshi/learnify/internal/middleware"
	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/repository"
	"github.com/hitoshi/learnify/internal/retry"
	"github.com/hitoshi/learnify/internal/security"
	"github.com/hitoshi/learnify/internal/worker/cleanup"
)

// dbConnectTimeout は起動時のDB疎通確認の制限時間。
const dbConnectTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップする
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

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
			port = "8080"
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
		slog.String("storage_backend", cfg.StorageBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newBlobStore は設定に応じたBlobストアを生成する。
// memoryバックエンドはプロセス内でのみ有効なため、開発とテスト用途に限る。
func newBlobStore(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMemory:
		slog.Warn("using in-memory blob storage; collections are lost on restart")
		return blobstore.NewMemoryStore(), nil
	default:
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create supabase client: %w", err)
		}

		// 取得先はSupabaseのホストに限定する
		u, err := url.Parse(cfg.SupabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid SUPABASE_URL: %w", err)
		}
		guard := security.NewSSRFGuard(u.Hostname())

		return blobstore.NewSupabaseStore(client, cfg.SupabaseBucket, guard, cfg.BlobFetchTimeout, cfg.BlobFetchMaxSize), nil
	}
}

// newMetrics はPrometheusレジストリとコレクターを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリ・ストレージ・メトリクスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	deletionRepo := repository.NewPostgresBlobDeletionRepo(db)

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	reg, collector := newMetrics()
	appLogger := slog.Default()

	// 3. 生成モデルの初期化
	gemini, err := generator.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	provider := generator.NewBreakerProvider(gemini, generator.DefaultBreakerSettings())
	gen := generator.NewGenerator(provider, security.NewContentSanitizer(), collector).
		WithTimeout(cfg.GenerationTimeout)

	fetcher := generator.NewResilientFetcher(gen, generator.ResilientConfig{
		MaxAttempts: cfg.HeadingMaxAttempts,
		Backoff: retry.Policy{
			Initial: cfg.HeadingRetryInitialBackoff,
			Max:     cfg.HeadingRetryMaxBackoff,
			Jitter:  true,
		},
		Deadline: cfg.HeadingDeadline,
	}, collector, appLogger)

	// 4. ドメインサービスの初期化
	roadmaps := collection.NewStore[model.RoadmapEntry](model.CollectionRoadmap, blobs, userRepo, deletionRepo, collector, appLogger)
	courses := collection.NewStore[model.DetailedCourse](model.CollectionCourse, blobs, userRepo, deletionRepo, collector, appLogger)
	courseService := course.NewService(userRepo, roadmaps, courses, gen, fetcher, course.Config{
		HeadingConcurrency: cfg.HeadingConcurrency,
	}, collector, appLogger)

	authService := auth.NewService(userRepo, auth.NewTokenIssuer(cfg.JWTSecretKey, cfg.JWTTTL))

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitGeneration),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            appLogger,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthPinger:      db,

		AuthService:   authService,
		CourseService: courseService,
		Assistant:     gen,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      courseWriteTimeout(cfg),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// courseWriteTimeout は詳細コース生成が書き込みタイムアウトに収まるよう、
// 見出しの並列実行ラウンド数から書き込みタイムアウトを求める。
// 1ラウンドは見出し1件の上限(HeadingDeadline)で、ロードマップの読み出しと保存の分としてGenerationTimeoutを足す。
// 見出し数はロードマップ生成で要求する数を前提とし、モデルがそれより多く返した場合は収まらないことがある。
func courseWriteTimeout(cfg *config.Config) time.Duration {
	headings := generator.RoadmapModules * generator.RoadmapHeadingsPerModule
	concurrency := max(cfg.HeadingConcurrency, 1)
	rounds := (headings + concurrency - 1) / concurrency
	return time.Duration(rounds)*cfg.HeadingDeadline + cfg.GenerationTimeout
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、孤立Blobの削除再試行ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	reg, collector := newMetrics()
	job := cleanup.NewSweepJob(repository.NewPostgresBlobDeletionRepo(db), blobs, collector, slog.Default())

	if cfg.WorkerMetricsPort != "" {
		stop := serveWorkerMetrics(":"+cfg.WorkerMetricsPort, reg)
		defer stop()
	}

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	// ブロッキング。ctxのキャンセルで戻る
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// serveWorkerMetrics はワーカーの/metricsをバックグラウンドで公開し、停止関数を返す。
func serveWorkerMetrics(addr string, reg *prometheus.Registry) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker metrics listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
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
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
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
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		if len(rawURL) > 20 {
			return rawURL[:12] + "***@..."
		}
		return "***"
	}
	return u.Redacted()
}
