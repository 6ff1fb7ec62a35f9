// Package app はaudioboxの起動処理と依存関係のワイヤリングを提供する。
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
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/audiobox/internal/admin"
	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/auth"
	"github.com/hitoshi/audiobox/internal/config"
	"github.com/hitoshi/audiobox/internal/database"
	"github.com/hitoshi/audiobox/internal/handler"
	"github.com/hitoshi/audiobox/internal/logger"
	"github.com/hitoshi/audiobox/internal/metrics"
	"github.com/hitoshi/audiobox/internal/middleware"
	"github.com/hitoshi/audiobox/internal/repository"
	"github.com/hitoshi/audiobox/internal/security"
	"github.com/hitoshi/audiobox/internal/storage"
	"github.com/hitoshi/audiobox/internal/worker/cleanup"
)

const (
	dbPingTimeout    = 5 * time.Second
	bucketTimeout    = 10 * time.Second
	shutdownTimeout  = 30 * time.Second
	healthcheckLimit = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	root.SetOut(w)
	root.SetErr(w)
	return root.Execute()
}

// runOptions はサブコマンド固有の指定。
type runOptions struct {
	rollbackSteps int
}

type runOption func(*runOptions)

// withRollback はmigrateを適用ではなくsteps件の巻き戻しとして実行する。
func withRollback(steps int) runOption {
	return func(o *runOptions) {
		o.rollbackSteps = steps
	}
}

// runWithConfig は設定を読み込み、指定されたモードで起動する。
func runWithConfig(w io.Writer, cmd Command, opts ...runOption) error {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("server_domain", cfg.ServerDomain),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		if o.rollbackSteps != 0 {
			return runRollback(cfg, o.rollbackSteps)
		}
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// openStorage はオブジェクトストレージのクライアントを生成し、バケットを用意する。
// バケットの確認に失敗しても起動は継続する（最初のリクエストで再度エラーになる）。
func openStorage(cfg *config.Config) (*storage.Client, error) {
	store, err := storage.NewClient(storage.Config{
		Endpoint:      cfg.MinioEndpoint,
		UseSSL:        cfg.MinioUseSSL,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		Region:        cfg.MinioRegion,
		PresignExpiry: cfg.PresignExpiry,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), bucketTimeout)
	defer cancel()
	if err := store.EnsureBucket(ctx); err != nil {
		slog.Warn("object storage is not ready",
			slog.String("endpoint", cfg.MinioEndpoint),
			slog.String("error", err.Error()),
		)
	}
	return store, nil
}

// newRegistry はGo runtimeとプロセスのコレクターを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server はAPIサーバーを構成する部品。
type server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
}

// buildServer はリポジトリ・サービス・ハンドラーを組み立てる。
// DBとストレージへの接続はリクエスト時まで行わない。
func buildServer(cfg *config.Config, db *sql.DB, store storage.ObjectStore, reg *prometheus.Registry) (*server, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	audioRepo := repository.NewPostgresAudioRepo(db)
	pendingRepo := repository.NewPostgresPendingDeletionRepo(db)

	// 2. 認証
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		SecretKey:  cfg.SecretKey,
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	providerClient, err := newProviderClient(cfg)
	if err != nil {
		return nil, err
	}
	providers := []auth.IdentityProvider{
		auth.NewYandexProvider(auth.YandexConfig{
			ClientID:     cfg.YandexClientID,
			ClientSecret: cfg.YandexClientSecret,
			RedirectURL:  cfg.YandexRedirectURL,
			AuthURL:      cfg.YandexAuthURL,
			TokenURL:     cfg.YandexTokenURL,
			UserInfoURL:  cfg.YandexUserInfoURL,
			HTTPClient:   providerClient,
		}),
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   providerClient,
		}))
	}
	authService := auth.NewService(userRepo, codec, providers...)

	// 3. ドメインサービス
	purger := cleanup.NewObjectPurger(pendingRepo, store, collector, slog.Default())
	purger.BatchSize = cfg.PurgeBatchSize
	audioService := audio.NewService(audioRepo, store, purger, collector)
	adminService := admin.NewService(userRepo, audioService, purger)

	// 4. ルーター
	limiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitUpload),
	)
	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     codec,
		UserFinder:        userRepo,
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AdminEmail:        cfg.AdminEmail,
		Logger:            slog.Default(),
		Recorder:          collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService:  authService,
		AudioService: audioService,
		AdminService: adminService,

		UploadMaxBytes: cfg.UploadMaxBytes,
	})

	return &server{handler: router, limiter: limiter}, nil
}

// newProviderClient はIdPとの通信に使うHTTPクライアントを生成する。
// ガードが有効な場合は設定されたエンドポイントを検証し、公開アドレスにしか接続しないクライアントを返す。
func newProviderClient(cfg *config.Config) (*http.Client, error) {
	if !cfg.ProviderEgressGuard {
		slog.Warn("provider egress guard is disabled")
		return &http.Client{Timeout: cfg.ProviderTimeout}, nil
	}

	endpoints := []string{cfg.YandexAuthURL, cfg.YandexTokenURL, cfg.YandexUserInfoURL}
	for _, e := range endpoints {
		if err := security.ValidateEndpoint(e); err != nil {
			return nil, fmt.Errorf("invalid identity provider endpoint: %w", err)
		}
	}
	return security.NewEgressClient(cfg.ProviderTimeout), nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, db, store, newRegistry())
	if err != nil {
		return err
	}
	defer srv.limiter.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  60 * time.Second, // 大きな音声ファイルのアップロードを許容する
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 削除待ちキューを定期的に消化し、シグナルを受信すると停止する。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}

	purger := newWorkerPurger(cfg, repository.NewPostgresPendingDeletionRepo(db), store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purger.Start(ctx, cfg.PurgeInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerPurger はワーカー用のObjectPurgerを生成する。
// ワーカーは/metricsを公開しないため、メトリクスは記録しない。
func newWorkerPurger(cfg *config.Config, queue cleanup.Queue, store cleanup.ObjectDeleter) *cleanup.ObjectPurger {
	purger := cleanup.NewObjectPurger(queue, store, metrics.Nop{}, slog.Default())
	purger.BatchSize = cfg.PurgeBatchSize
	return purger
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

// runRollback は適用済みのマイグレーションをsteps件巻き戻す。
func runRollback(cfg *config.Config, steps int) error {
	slog.Warn("rolling back database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database rollback completed")
	return nil
}

// runHealthcheck は/healthにHTTPリクエストを送り、200以外ならエラーを返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: healthcheckLimit}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
