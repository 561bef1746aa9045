package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/hrgate/internal/sessionstore"
	"github.com/nao1215/hrgate/pkg/gateway"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// loginResponse はログインAPIの応答。
type loginResponse struct {
	Tokens gateway.AuthTokens `json:"tokens"`
	User   struct {
		ID           string `json:"id"`
		Username     string `json:"username"`
		Superuser    bool   `json:"is_superuser"`
		Organization *named `json:"organization"`
		Branch       *named `json:"branch"`
	} `json:"user"`
}

// named はIDと名前を持つ応答要素。
type named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newLoginCmd(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "ログインしてセッションを保存する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// 以前のセッションのトークンで認証系エンドポイントを呼ばないよう先に破棄する
			if err := a.store.Clear(ctx); err != nil {
				return err
			}
			regs := a.client.Registers()
			regs.ClearTenant()
			regs.ClearBranch()

			var resp loginResponse
			if err := a.client.PostJSON(ctx, "/auth/login/", map[string]string{
				"username": username,
				"password": password,
			}, &resp); err != nil {
				return fmt.Errorf("ログインに失敗: %w", err)
			}
			if resp.Tokens.Access == "" {
				return errors.New("ログイン応答にアクセストークンが含まれていません")
			}

			st := sessionstore.State{
				Tokens:    resp.Tokens,
				Username:  resp.User.Username,
				Superuser: resp.User.Superuser,
			}
			if resp.User.Organization != nil {
				st.OrganizationID = resp.User.Organization.ID
			}
			if resp.User.Branch != nil {
				st.BranchID = resp.User.Branch.ID
			}
			if err := a.store.SaveLogin(ctx, st); err != nil {
				return err
			}
			a.restoreContext()

			a.logger.Info("ログインしました",
				zap.String("username", st.Username),
				zap.String("organization_id", st.OrganizationID),
				zap.Bool("superuser", st.Superuser))

			if a.structured() {
				return a.printOutput(resp.User)
			}
			fmt.Fprintf(a.out, "ログインしました: %s\n", st.Username)
			switch {
			case st.Superuser:
				fmt.Fprintln(a.out, "スーパーユーザーです。組織を操作するには hrgate switch-org を実行してください")
			case resp.User.Organization != nil:
				fmt.Fprintf(a.out, "組織: %s (%s)\n", resp.User.Organization.Name, resp.User.Organization.ID)
			}
			if resp.User.Branch != nil {
				fmt.Fprintf(a.out, "拠点: %s (%s)\n", resp.User.Branch.Name, resp.User.Branch.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "ユーザー名")
	cmd.Flags().StringVarP(&password, "password", "p", "", "パスワード")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "ログアウトして保存済みのセッションを削除する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st := a.store.State()
			if st.LoggedIn() {
				// サーバー側の失効に失敗してもローカルのセッションは削除する
				if err := a.client.PostJSON(ctx, "/auth/logout/", map[string]string{"refresh": st.Tokens.Refresh}, nil); err != nil {
					a.logger.Warn("サーバー側のログアウトに失敗", zap.Error(err))
				}
			}
			if err := a.store.Clear(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			regs := a.client.Registers()
			regs.ClearTenant()
			regs.ClearBranch()
			fmt.Fprintln(a.out, "ログアウトしました")
			return nil
		},
	}
}

// whoami はwhoamiコマンドの出力。
type whoami struct {
	UserID              string    `json:"user_id"`
	Username            string    `json:"username"`
	Superuser           bool      `json:"is_superuser"`
	OrganizationID      string    `json:"organization_id"`
	BoundOrganizationID string    `json:"bound_organization_id,omitempty"`
	BranchID            string    `json:"branch_id"`
	TokenExpiresAt      time.Time `json:"token_expires_at"`
	Server              any       `json:"server,omitempty"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "ログイン中のユーザーを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.requireLogin()
			if err != nil {
				return err
			}

			info := whoami{
				Username:            st.Username,
				Superuser:           st.Superuser,
				OrganizationID:      st.OrganizationID,
				BoundOrganizationID: st.BoundOrganizationID,
				BranchID:            st.BranchID,
			}
			// 表示用に読むだけなので署名は検証しない
			claims := jwt.MapClaims{}
			if _, _, err := jwt.NewParser().ParseUnverified(st.Tokens.Access, claims); err != nil {
				a.logger.Debug("アクセストークンを解析できません", zap.Error(err))
			} else {
				if sub, err := claims.GetSubject(); err == nil {
					info.UserID = sub
				}
				if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
					info.TokenExpiresAt = exp.UTC()
				}
			}

			if !offline {
				var me map[string]any
				if err := a.client.GetJSON(cmd.Context(), "/auth/me/", &me); err != nil {
					return fmt.Errorf("ユーザー情報の取得に失敗: %w", err)
				}
				info.Server = me
			}

			if a.structured() {
				return a.printOutput(info)
			}
			expires := ""
			if !info.TokenExpiresAt.IsZero() {
				expires = info.TokenExpiresAt.Format(time.RFC3339)
			}
			return printTable(a.out, []string{"field", "value"}, [][]string{
				{"user_id", info.UserID},
				{"username", info.Username},
				{"is_superuser", strconv.FormatBool(info.Superuser)},
				{"organization_id", info.OrganizationID},
				{"bound_organization_id", info.BoundOrganizationID},
				{"branch_id", info.BranchID},
				{"token_expires_at", expires},
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "サーバーに問い合わせず保存済みのセッションだけを表示する")
	return cmd
}
