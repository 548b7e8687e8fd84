// Package main はWebサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/blogme/internal/auth"
	"github.com/yourusername/blogme/internal/config"
	"github.com/yourusername/blogme/internal/storage"
	"github.com/yourusername/blogme/internal/users"
	"github.com/yourusername/blogme/internal/web"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB 接続とマイグレーション
	dialect := storage.Dialect(cfg.DatabaseDriver)
	db, err := storage.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db, dialect, logger); err != nil {
		return err
	}

	// Redis があればレート制限とアクティビティ記録に使う
	deps, err := setupRedisDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	authManager, err := auth.NewManager(auth.Options{
		Users:              users.NewSQLStore(db, dialect),
		Hasher:             auth.BcryptHasher{Cost: cfg.BcryptCost},
		Limiter:            deps.limiter,
		Events:             deps.events,
		Activity:           deps.activity,
		Logger:             logger,
		MaxSessionLifetime: cfg.SessionMaxAge(),
		IdleTimeout:        cfg.SessionIdleTimeout(),
		CSRFProtection:     cfg.CSRFProtection,
	})
	if err != nil {
		return err
	}

	router, err := newRouter(cfg, logger, authManager)
	if err != nil {
		return err
	}

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", "addr", srv.Addr, "mode", cfg.GinMode, "driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter はミドルウェアとルートを配線した gin.Engine を返します。
func newRouter(cfg *config.Config, logger *slog.Logger, authManager *auth.Manager) (*gin.Engine, error) {
	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	// セッションストアの設定（署名鍵 + 任意の暗号化鍵）
	store := cookie.NewStore(sessionKeys(cfg, logger)...)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge().Seconds()),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	router.Use(cors.New(corsConfig))

	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	authManager.Mount(router)
	return router, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "blogme-web",
		"version": "0.1.0",
	})
}

func sessionKeys(cfg *config.Config, logger *slog.Logger) [][]byte {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// release モードでは Validate で弾かれるため、ここに来るのは開発時のみ
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(err)
		}
		logger.Warn("SESSION_SECRET is not set; using an ephemeral key, sessions will not survive restarts")
	}
	keys := [][]byte{secret}
	if cfg.SessionEncryptionKey != "" {
		keys = append(keys, []byte(cfg.SessionEncryptionKey))
	}
	return keys
}
