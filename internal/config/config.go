// Package config はhrgate CLIの設定を読み込む。
//
// 設定はフラグ、環境変数（HRGATE_ プレフィックス）、YAML設定ファイル、既定値の順に優先される。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix は環境変数のプレフィックス。
const EnvPrefix = "HRGATE"

// 設定キー。
const (
	KeyBaseURL         = "base_url"
	KeyTimeout         = "timeout"
	KeySessionDB       = "session_db"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyAuthExemptPaths = "auth_exempt_paths"
	KeyOutput          = "output"
)

// 出力形式。
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// Config はCLIの設定値。
type Config struct {
	// BaseURL はHRバックエンドのAPIベースURL。
	BaseURL string `mapstructure:"base_url"`
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout time.Duration `mapstructure:"timeout"`
	// SessionDB はセッションを保存するSQLiteファイルのパス。
	SessionDB string `mapstructure:"session_db"`
	// LogLevel はログの出力レベル。
	LogLevel string `mapstructure:"log_level"`
	// LogFormat はログの出力形式（console または json）。
	LogFormat string `mapstructure:"log_format"`
	// AuthExemptPaths はテナント確定前でも呼び出せるパス断片。空なら既定値を使用する。
	AuthExemptPaths []string `mapstructure:"auth_exempt_paths"`
	// Output はコマンド結果の出力形式。
	Output string `mapstructure:"output"`
}

// New は既定値と環境変数の読み込みを設定した viper インスタンスを生成する。
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyBaseURL, "http://localhost:8000/api/v1")
	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeySessionDB, DefaultSessionDB())
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyAuthExemptPaths, []string{})
	v.SetDefault(KeyOutput, OutputTable)
	return v
}

// BindFlags はフラグを設定キーに対応付ける。
// フラグ名はキーの "_" を "-" に置き換えたもの（例: --base-url）。
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range []string{KeyBaseURL, KeyTimeout, KeySessionDB, KeyLogLevel, KeyLogFormat, KeyOutput} {
		flag := flags.Lookup(strings.ReplaceAll(key, "_", "-"))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("フラグ %s の設定に失敗: %w", flag.Name, err)
		}
	}
	return nil
}

// Load は設定ファイルを読み込み、設定値を検証して返す。
// file が空の場合は既定の場所を探し、存在しなければ読み込まない。
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "hrgate"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_urlが指定されていません")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeoutは正の値を指定してください: %s", c.Timeout)
	}
	if c.SessionDB == "" {
		return errors.New("session_dbが指定されていません")
	}
	if !slices.Contains([]string{OutputTable, OutputJSON, OutputYAML}, c.Output) {
		return fmt.Errorf("未対応の出力形式です: %s (table, json, yaml のいずれかを指定してください)", c.Output)
	}
	return nil
}

// DefaultSessionDB はセッションDBの既定のパスを返す。
func DefaultSessionDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hrgate-session.db"
	}
	return filepath.Join(dir, "hrgate", "session.db")
}
