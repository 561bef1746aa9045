package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nao1215/hrgate/internal/config"
	"github.com/nao1215/hrgate/internal/sessionstore"
	"github.com/nao1215/hrgate/pkg/gateway"
	"github.com/nao1215/hrgate/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app はコマンド実行中に共有する状態。
type app struct {
	// v は設定の読み込み元。
	v *viper.Viper
	// configFile は --config で指定された設定ファイル。
	configFile string
	// cfg は読み込んだ設定。
	cfg *config.Config
	// logger はCLIのロガー。
	logger *zap.Logger
	// store は保存済みのセッション。
	store *sessionstore.Store
	// client はゲートウェイクライアント。
	client *gateway.Client
	// currentPath はセッション終了後に戻る画面のパス。
	currentPath string
	// out はコマンド結果の出力先。
	out io.Writer
	// errOut はエラーと通知の出力先。
	errOut io.Writer
}

// Execute は args でCLIを実行し、終了コードを返す。
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{
		v:           config.New(),
		currentPath: "/",
		out:         stdout,
		errOut:      stderr,
	}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "エラー: %v\n", err)
		if a.store != nil {
			if target := a.store.LastNavigation(); target != "" {
				fmt.Fprintf(stderr, "次の画面へ移動してください: %s\n", target)
			}
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hrgate",
		Short: "マルチテナント人事APIのクライアント",
		Long: `hrgate はマルチテナントの人事APIをゲートウェイ経由で呼び出すCLIです。

ログインするとセッションがSQLiteに保存され、以降のコマンドは組織と拠点のヘッダーを
自動で付与します。アクセストークンの期限切れは自動で更新し、テナント不一致や
契約切れなどでセッションが終了した場合は移動先の画面を表示します。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "設定ファイル（既定: $XDG_CONFIG_HOME/hrgate/config.yaml）")
	flags.String("base-url", "", "APIのベースURL")
	flags.Duration("timeout", 0, "1回の呼び出しのタイムアウト")
	flags.String("session-db", "", "セッションを保存するSQLiteファイル")
	flags.String("log-level", "", "ログレベル: debug, info, warn, error")
	flags.String("log-format", "", "ログ形式: console, json")
	flags.StringP("output", "o", "", "出力形式: table, json, yaml")

	cmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newGetCmd(a),
		newPostCmd(a),
		newDashboardCmd(a),
		newBranchesCmd(a),
		newSwitchBranchCmd(a),
		newSwitchOrgCmd(a),
		newDiagnosticsCmd(a),
	)
	return cmd
}

// setup は設定を読み込み、セッションを開いてゲートウェイクライアントを生成する。
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: a.errOut,
	})
	if err != nil {
		return err
	}
	a.logger = logger

	store, err := sessionstore.Open(cmd.Context(), cfg.SessionDB, logger)
	if err != nil {
		return err
	}
	a.store = store

	client, err := gateway.New(gateway.Config{
		BaseURL:         cfg.BaseURL,
		Session:         store,
		Sink:            store,
		Timeout:         cfg.Timeout,
		Logger:          logger,
		AuthExemptPaths: cfg.AuthExemptPaths,
		CurrentPath:     func() string { return a.currentPath },
	})
	if err != nil {
		return err
	}
	a.client = client

	client.Notifier().Register(func(state gateway.MaintenanceState) {
		if state.IsDown {
			fmt.Fprintf(a.errOut, "警告: %s\n", state.Message)
			return
		}
		fmt.Fprintln(a.errOut, "バックエンドとの通信が復旧しました")
	})

	a.restoreContext()
	return nil
}

// restoreContext は保存済みのセッションから組織と拠点を登録する。
func (a *app) restoreContext() {
	st := a.store.State()
	if !st.LoggedIn() {
		return
	}
	regs := a.client.Registers()
	if st.Superuser || st.OrganizationID != "" {
		regs.SetTenant(st.OrganizationID)
	}
	if st.BranchID != "" {
		regs.SetBranch(st.BranchID)
	}
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(a.errOut, "セッションDBのクローズに失敗: %v\n", err)
		}
	}
}

// errNotLoggedIn はログインが必要なコマンドを未ログインで実行したことを表す。
var errNotLoggedIn = errors.New("ログインしていません。hrgate login を実行してください")

func (a *app) requireLogin() (sessionstore.State, error) {
	st := a.store.State()
	if !st.LoggedIn() {
		return st, errNotLoggedIn
	}
	return st, nil
}
