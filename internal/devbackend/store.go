package devbackend

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/sessiongate/pkg/migration"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenDB はSQLiteデータベースを開き、マイグレーションを適用する。
// SQLiteの書き込みは直列化されるため接続数を1に制限する。:memory: もこの制限で1つのDBになる。
func OpenDB(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("データベースへの接続確認に失敗: %w", err)
	}
	if _, err := migration.Run(ctx, sqlDB, migrationsFS, "migrations", logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return sqlDB, nil
}
