// hrgate 開発用バックエンドのエントリポイント。
// ログイン、トークン更新、テナント固有の人事APIをSQLite上で提供する。
package main

import (
	"context"
	"log"
	"os"

	"github.com/nao1215/hrgate/internal/devserver"
	"github.com/nao1215/hrgate/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	logger, err := logging.New(logging.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	server, err := devserver.NewFromEnv(context.Background(), logger)
	if err != nil {
		logger.Fatal("開発用バックエンドの初期化に失敗", zap.Error(err))
	}
	defer server.Close()

	logger.Info("開発用バックエンドを起動します", zap.String("addr", ":"+port))
	if err := server.Run(port); err != nil {
		logger.Fatal("開発用バックエンドの起動に失敗", zap.Error(err))
	}
}
