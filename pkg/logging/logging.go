// Package logging はCLIと開発用サーバーが使用する zap ロガーを生成する。
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 出力形式。
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config はロガーの設定。
type Config struct {
	// Level は出力する最小レベル（debug, info, warn, error）。空の場合は info。
	Level string
	// Format は出力形式。空の場合は FormatConsole。
	Format string
	// Output は出力先。nil の場合は標準エラー出力。
	Output io.Writer
}

// New は設定に従ってロガーを生成する。
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("ログレベルの解析に失敗: %w", err)
		}
		level = parsed
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	conf := zap.NewProductionEncoderConfig()
	conf.CallerKey = ""
	conf.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case FormatJSON:
		return zapcore.NewJSONEncoder(conf), nil
	case "", FormatConsole:
		conf.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(conf), nil
	default:
		return nil, fmt.Errorf("未対応のログ形式です: %s", format)
	}
}
