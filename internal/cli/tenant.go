package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// branch は拠点一覧APIの要素。
type branch struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	IsPrimary bool   `json:"is_primary"`
}

// myBranchesResponse は所属拠点一覧APIの応答。
type myBranchesResponse struct {
	Branches        []branch `json:"branches"`
	CurrentBranchID string   `json:"current_branch_id"`
}

func newBranchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "所属組織の拠点を一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.requireLogin(); err != nil {
				return err
			}
			a.currentPath = "/branches"

			var resp myBranchesResponse
			if err := a.client.GetJSON(cmd.Context(), "/auth/branches/my-branches/", &resp); err != nil {
				return fmt.Errorf("拠点一覧の取得に失敗: %w", err)
			}
			if a.structured() {
				return a.printOutput(resp)
			}

			current := a.client.Registers().Branch().BranchID
			if current == "" {
				current = resp.CurrentBranchID
			}
			rows := make([][]string, 0, len(resp.Branches))
			for _, b := range resp.Branches {
				mark := ""
				if b.ID == current {
					mark = "*"
				}
				rows = append(rows, []string{b.ID, b.Name, b.Code, strconv.FormatBool(b.IsPrimary), mark})
			}
			return printTable(a.out, []string{"id", "name", "code", "primary", "current"}, rows)
		},
	}
}

func newSwitchBranchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-branch BRANCH_ID",
		Short: "操作対象の拠点を切り替える",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.requireLogin(); err != nil {
				return err
			}
			ctx := cmd.Context()
			a.currentPath = "/branches"

			var resp struct {
				Success bool   `json:"success"`
				Branch  branch `json:"branch"`
			}
			if err := a.client.PostJSON(ctx, "/auth/branches/switch-branch/", map[string]string{
				"branch_id": args[0],
			}, &resp); err != nil {
				return fmt.Errorf("拠点の切り替えに失敗: %w", err)
			}
			if !resp.Success {
				return fmt.Errorf("拠点の切り替えが拒否されました: %s", args[0])
			}

			if err := a.store.SetBranch(ctx, resp.Branch.ID); err != nil {
				return err
			}
			a.client.Registers().SetBranch(resp.Branch.ID)
			a.logger.Info("拠点を切り替えました", zap.String("branch_id", resp.Branch.ID))

			if a.structured() {
				return a.printOutput(resp.Branch)
			}
			fmt.Fprintf(a.out, "拠点を切り替えました: %s (%s)\n", resp.Branch.Name, resp.Branch.ID)
			return nil
		},
	}
}

// errNotSuperuser はスーパーユーザー専用のコマンドを一般ユーザーが実行したことを表す。
var errNotSuperuser = errors.New("組織の切り替えはスーパーユーザーのみ実行できます")

func newSwitchOrgCmd(a *app) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "switch-org [ORGANIZATION_ID]",
		Short: "スーパーユーザーの操作対象の組織を切り替える",
		Args: func(cmd *cobra.Command, args []string) error {
			if unset {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.requireLogin()
			if err != nil {
				return err
			}
			if !st.Superuser {
				return errNotSuperuser
			}

			org := ""
			if !unset {
				org = args[0]
			}
			if err := a.store.BindOrganization(cmd.Context(), org); err != nil {
				return err
			}
			// 組織が変わると以前の拠点は無効になる
			if err := a.store.SetBranch(cmd.Context(), ""); err != nil {
				return err
			}
			regs := a.client.Registers()
			regs.SetTenant(org)
			regs.ClearBranch()

			if org == "" {
				fmt.Fprintln(a.out, "組織の指定を解除しました")
				return nil
			}
			fmt.Fprintf(a.out, "組織を切り替えました: %s\n", org)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unset, "clear", false, "組織の指定を解除する")
	return cmd
}
