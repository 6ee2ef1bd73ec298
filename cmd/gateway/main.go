// Session Gatewayのエントリポイント。
// ブラウザと同一オリジンで動き、/api 配下のリクエストとCookieをバックエンドへ中継する。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nao1215/sessiongate/internal/config"
	"github.com/nao1215/sessiongate/internal/gateway"
	"github.com/nao1215/sessiongate/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Gatewayの実行に失敗: %v", err)
	}
}

func run() error {
	// .envは開発時だけ置かれる
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	l, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	server, err := gateway.NewServer(cfg.Gateway, l)
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		l.Error("Gatewayが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
