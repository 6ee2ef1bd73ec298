package devbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sessiongate/internal/config"
	devdb "github.com/nao1215/sessiongate/internal/devbackend/db"
	"github.com/nao1215/sessiongate/pkg/middleware"
	"go.uber.org/zap"
)

// ErrMissingJWTSecret はJWTの署名鍵が設定されていないことを表す。
var ErrMissingJWTSecret = errors.New("JWTの署名鍵が設定されていません")

// Server は開発用バックエンドのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は開発用バックエンドの設定。
	cfg config.DevBackendConfig
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はクエリ実行オブジェクト。
	queries *devdb.Queries
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewServer は新しい開発用バックエンドを生成する。sqlDBはOpenDBで開いたものを渡す。
func NewServer(cfg config.DevBackendConfig, sqlDB *sql.DB, logger *zap.Logger) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("トークンの有効期間は正の値が必要です: access=%s, refresh=%s", cfg.AccessTTL, cfg.RefreshTTL)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:  router,
		cfg:     cfg,
		db:      sqlDB,
		queries: devdb.New(sqlDB),
		logger:  logger,
		now:     time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler は開発用バックエンドのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("開発用バックエンドを起動します", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("開発用バックエンドの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("開発用バックエンドを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("開発用バックエンドの停止に失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("開発用バックエンドの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/api/auth")
	{
		auth.POST("/register", s.handleRegister())
		auth.POST("/login", s.handleLogin())
		auth.POST("/refresh", s.handleRefresh())
		auth.POST("/logout", s.handleLogout())
		auth.POST("/oauth/:provider", s.handleOAuth())
		auth.POST("/forgot-password", s.handleForgotPassword())
		auth.GET("/me", middleware.JWTAuth(s.cfg.JWTSecret, CookieAccessToken), s.handleMe())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "devbackend"})
	})
}
