// 開発用バックエンドのエントリポイント。
// Gatewayが中継する認証APIをSQLiteで実装する。本番環境では使わない。
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
	"github.com/nao1215/sessiongate/internal/devbackend"
	"github.com/nao1215/sessiongate/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("開発用バックエンドの実行に失敗: %v", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := devbackend.OpenDB(ctx, cfg.DevBackend.DSN, l)
	if err != nil {
		return fmt.Errorf("データベースの初期化に失敗: %w", err)
	}
	defer sqlDB.Close()

	server, err := devbackend.NewServer(cfg.DevBackend, sqlDB, l)
	if err != nil {
		return fmt.Errorf("開発用バックエンドの初期化に失敗: %w", err)
	}

	if err := server.Run(ctx, cfg.Gateway.ShutdownTimeout); err != nil {
		l.Error("開発用バックエンドが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
