package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sessiongate/internal/config"
	"github.com/nao1215/sessiongate/pkg/envelope"
	"github.com/nao1215/sessiongate/pkg/middleware"
	"go.uber.org/zap"
)

// readHeaderTimeout はクライアントからのリクエストヘッダー読み取りの上限。
const readHeaderTimeout = 10 * time.Second

// Server はSession GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はGatewayの設定。
	cfg config.GatewayConfig
	// backend はプロキシ先バックエンドのオリジン。
	backend *url.URL
	// client はバックエンド呼び出しに使うHTTPクライアント。リダイレクトは追わない。
	client *http.Client
	// logger はロガー。
	logger *zap.Logger
	// metrics はPrometheusメトリクス。
	metrics *metrics
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg config.GatewayConfig, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Gateway設定の検証に失敗: %w", err)
	}
	backend, err := url.Parse(strings.TrimSuffix(cfg.BackendURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("バックエンドURLの解析に失敗: %w", err)
	}

	router := gin.New()
	// 専用パスへの他のメソッドはプロキシせず405を返す
	router.HandleMethodNotAllowed = true
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	if cfg.FrontendURL != "" {
		router.Use(middleware.CORS([]string{cfg.FrontendURL}))
	}

	s := &Server{
		router:  router,
		cfg:     cfg,
		backend: backend,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger,
		metrics: newMetrics(),
	}
	s.setupRoutes()

	return s, nil
}

// Handler はGatewayのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// httpServer はGatewayを公開するhttp.Serverを組み立てる。
// ProxyTimeoutはバックエンド呼び出しだけに使い、ここでは使わない。
func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := s.httpServer()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gatewayを起動します",
			zap.String("addr", srv.Addr),
			zap.String("backend", s.backend.String()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("Gatewayの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Gatewayを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("Gatewayの停止に失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("Gatewayの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/api/auth")
	{
		auth.POST("/refresh", s.handleRefresh())
		auth.POST("/logout", s.handleLogout())
		// プロバイダのないOAuthは400を返すため、パラメータなしのパスも登録する
		auth.POST("/oauth", s.handleOAuth())
		auth.POST("/oauth/:provider", s.handleOAuth())
	}
	s.router.GET("/api/me", s.handleMe())

	// 上記以外の /api 配下はすべてバックエンドへ転送する
	s.router.NoRoute(s.handleProxy())
	s.router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, envelope.Error("許可されていないメソッドです"))
	})

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.handler()))
}
