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
	"golang.org/x/sync/errgroup"

	"github.com/insightlab/insight/internal/assessment"
	"github.com/insightlab/insight/internal/auth"
	"github.com/insightlab/insight/internal/config"
	"github.com/insightlab/insight/internal/database"
	"github.com/insightlab/insight/internal/handler"
	"github.com/insightlab/insight/internal/logger"
	"github.com/insightlab/insight/internal/metrics"
	"github.com/insightlab/insight/internal/middleware"
	"github.com/insightlab/insight/internal/repository"
	"github.com/insightlab/insight/internal/scoring"
	"github.com/insightlab/insight/internal/security"
	"github.com/insightlab/insight/internal/session"
	"github.com/insightlab/insight/internal/worker/cleanup"
)

const (
	shutdownTimeout    = 30 * time.Second
	statusCheckTimeout = 3 * time.Second
	oauthHTTPTimeout   = 10 * time.Second
	defaultServerPort  = "5000"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数の設定を読み込む。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はコマンドライン引数を解釈してサブコマンドを実行する。argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// signalContext はSIGINT/SIGTERMでキャンセルされるcontextを返す。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// sessionBackend は構成済みのセッションストアと、付随するバックグラウンド処理・後始末をまとめる。
type sessionBackend struct {
	store session.Store
	ping  func(ctx context.Context) error
	run   func(ctx context.Context)
	close func() error
}

// openSessionBackend はSESSION_BACKENDに応じてセッションストアを構成する。
func openSessionBackend(ctx context.Context, cfg *config.Config, db *sql.DB) (*sessionBackend, error) {
	ttl := session.WithTTL(cfg.SessionTTL())

	switch cfg.SessionBackend {
	case config.SessionBackendPostgres:
		pg := session.NewPostgresStore(db, ttl)
		job := cleanup.NewSessionCleanupJob(db, slog.Default())
		return &sessionBackend{
			store: pg,
			ping:  pg.Ping,
			run:   func(ctx context.Context) { job.Start(ctx, cfg.SessionSweepInterval) },
			close: func() error { return nil },
		}, nil

	case config.SessionBackendRedis:
		rdb, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := session.NewRedisStore(rdb, ttl)
		return &sessionBackend{
			store: store,
			ping:  store.Ping,
			// 期限切れはRedisのTTLで消える
			run:   func(ctx context.Context) { <-ctx.Done() },
			close: rdb.Close,
		}, nil

	default:
		store := session.NewMemoryStore(ttl)
		return &sessionBackend{
			store: store,
			run:   func(ctx context.Context) { store.Run(ctx, cfg.SessionSweepInterval) },
			close: func() error { return nil },
		}, nil
	}
}

// runServe はAPIサーバーを起動する。
// DB接続を開き、全依存関係をワイヤリングし、ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, statusCheckTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	// 3. セッションストア
	sessions, err := openSessionBackend(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer sessions.close()
	slog.Info("session store configured", slog.String("backend", cfg.SessionBackend))

	// 4. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	assessmentRepo := repository.NewPostgresAssessmentRepo(db)
	roadmapRepo := repository.NewPostgresRoadmapRepo(db)

	// 5. ドメインサービス
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   &http.Client{Timeout: oauthHTTPTimeout},
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessions.store, recorder,
		auth.ServiceConfig{SessionTTL: cfg.SessionTTL()},
	)

	gemini, err := scoring.NewGeminiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer gemini.Close()
	oracle := scoring.NewOracle(gemini, scoring.OracleConfig{
		Model:   cfg.GeminiModel,
		Timeout: cfg.ScoringTimeout,
	}, recorder)

	assessmentService := assessment.NewService(assessmentRepo, oracle, security.NewTextSanitizer(), recorder)
	roadmapService := assessment.NewRoadmapService(roadmapRepo)

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSubmit))
	defer rateLimiter.Stop()

	checks := []handler.StatusCheck{
		{
			Name:     "database",
			Required: true,
			Check: func(ctx context.Context) error {
				return database.Ping(ctx, db, statusCheckTimeout)
			},
		},
	}
	if sessions.ping != nil {
		checks = append(checks, handler.StatusCheck{Name: "session_store", Check: sessions.ping})
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Recorder:          recorder,
		SessionFinder:     sessions.store,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS: cfg.IsProduction(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:   cfg.FrontendURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		AssessmentService: assessmentService,
		RoadmapService:    roadmapService,

		StatusChecks:   checks,
		MetricsHandler: metrics.Handler(registry),
	})

	// 7. HTTPサーバー
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 採点はオラクルのタイムアウトまでかかり得る
		WriteTimeout: cfg.ScoringTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sessions.run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが正の場合はその段数だけロールバックする。
func runMigrate(cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	if down > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", down))
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はdistroless環境でのDockerヘルスチェック用。
// /health エンドポイントにリクエストを送り、200以外はエラーにする。
func runHealthcheck(ctx context.Context, port string) error {
	if port == "" {
		port = defaultServerPort
	}
	target := fmt.Sprintf("http://localhost:%s/health", port)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せる。解釈できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

// envOr は環境変数が空の場合にdefを返す。
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
