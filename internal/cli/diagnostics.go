package cli

import (
	"errors"
	"time"

	"github.com/nao1215/hrgate/pkg/diag"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDiagnosticsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "セッションの強制終了や画面遷移の記録を新しい順に表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit には1以上を指定してください")
			}
			entries, err := a.store.Diagnostics(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.structured() {
				if entries == nil {
					entries = []*diag.Entry{}
				}
				return a.printOutput(entries)
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				reason, target := "", ""
				if data, err := diag.DecodeData[diag.SessionEndedData](e); err == nil {
					reason, target = data.Reason, data.Target
				} else {
					a.logger.Debug("診断データを解釈できません", zap.String("id", e.ID), zap.Error(err))
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format(time.DateTime),
					string(e.Kind),
					e.Message,
					reason,
					target,
				})
			}
			return printTable(a.out, []string{"time", "kind", "message", "reason", "target"}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "表示する件数")
	return cmd
}
