package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/nao1215/hrgate/pkg/diag"
	"go.uber.org/zap"
)

// セッション終了時の遷移先。
const (
	NavTenantMismatch      = "/login?error=tenant_mismatch"
	NavTenantNotFound      = "/tenant-not-found"
	NavSubscriptionExpired = "/subscription-expired"
	NavLogin               = "/login"
)

// メンテナンスバナーに表示するメッセージ。
const (
	MessageUnreachable     = "サーバーに接続できません。ネットワーク接続を確認してください"
	MessageServiceDegraded = "サービスが一時的に利用できません。しばらくしてから再度お試しください"
)

// classify は2xx以外の応答をセキュリティ上の対応に振り分ける。
// 上から順に評価し、最初に該当したものを適用する。
func (c *Client) classify(ctx context.Context, req *Request, res *Response) (*Response, error) {
	p := parsePayload(res.Body)
	base := Error{
		StatusCode: res.StatusCode,
		Code:       p.code(),
		Message:    p.message(),
		Body:       res.Body,
	}

	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		c.markDown(MessageServiceDegraded)
		return nil, c.reject(withKind(base, KindServiceDegraded))

	case res.StatusCode == http.StatusForbidden && p.mentions(CodeTenantMismatch):
		gerr := withKind(base, KindTenantMismatch)
		gerr.Code = CodeTenantMismatch
		c.forceLogout(ctx, diag.KindForcedLogout, gerr, NavTenantMismatch)
		return nil, c.reject(gerr)

	case res.StatusCode == http.StatusNotFound && p.hasCode(CodeTenantNotFound):
		gerr := withKind(base, KindTenantNotFound)
		c.redirect(gerr, NavTenantNotFound)
		return nil, c.reject(gerr)

	case res.StatusCode == http.StatusPaymentRequired,
		res.StatusCode == http.StatusForbidden && p.hasCode(CodeSubscriptionInactive):
		gerr := withKind(base, KindSubscriptionExpired)
		c.redirect(gerr, NavSubscriptionExpired)
		return nil, c.reject(gerr)

	case res.StatusCode == http.StatusUnauthorized && !req.retried:
		return c.handleUnauthorized(ctx, req, p, base)
	}

	return nil, c.reject(withKind(base, KindUnclassified))
}

// handleUnauthorized は401応答のうちトークン更新で解決できるものだけを更新処理に回す。
func (c *Client) handleUnauthorized(ctx context.Context, req *Request, p payload, base Error) (*Response, error) {
	if p.hasCode(CodeUserNotFound) {
		// テナントのスキーマに存在しないスーパーユーザー。ログアウトさせない
		c.logger.Debug("テナント内にユーザーが存在しません", zap.String("path", req.Path))
		gerr := withKind(base, KindUserNotFound)
		gerr.Code = CodeUserNotFound
		return nil, c.reject(gerr)
	}
	if p.isTenantContextProblem() {
		return nil, c.reject(withKind(base, KindTenantContextMissing))
	}
	current := c.session.Tokens()
	if current.Refresh == "" {
		gerr := withKind(base, KindTokenExpired)
		gerr.Err = ErrNoRefreshToken
		return nil, c.reject(gerr)
	}
	if req.sentBearer != "" && current.Access != "" && current.Access != req.sentBearer {
		// 送信後に他のリクエストが更新を終えている
		req.retried = true
		return c.replay(ctx, req, current)
	}
	return c.refreshAndReplay(ctx, req)
}

// transportFailure は応答を受信できなかった場合の処理を行う。
// 呼び出し元のキャンセルや期限切れはメンテナンス扱いにせずそのまま返す。
func (c *Client) transportFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return c.unreachable(err)
}

// unreachable はバックエンドを停止中とし、KindUnreachable のエラーを返す。
func (c *Client) unreachable(err error) error {
	c.markDown(MessageUnreachable)
	return c.reject(&Error{
		Kind:    KindUnreachable,
		Message: MessageUnreachable,
		Err:     err,
	})
}

// forceLogout はセッションを破棄して指定の画面へ遷移する。
// トークンとテナント・拠点の登録を消去してからホスト側のログアウトを呼び出す。
func (c *Client) forceLogout(ctx context.Context, kind diag.Kind, gerr *Error, target string) {
	c.logger.Warn("セッションを強制終了します",
		zap.String("reason", string(gerr.Kind)),
		zap.Int("status", gerr.StatusCode),
		zap.String("target", target))

	if err := c.session.ClearTokens(); err != nil {
		c.logger.Warn("トークンの破棄に失敗", zap.Error(err))
	}
	c.registers.ClearTenant()
	c.registers.ClearBranch()
	if err := c.sink.Logout(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("ログアウト処理に失敗", zap.Error(err))
	}
	c.metrics.logouts.Inc()
	c.recordDiagnostic(kind, "セッションを強制終了しました", gerr, target)
	c.sink.Navigate(target)
}

// redirect はセッションを維持したまま指定の画面へ遷移する。
func (c *Client) redirect(gerr *Error, target string) {
	c.logger.Info("専用画面へ遷移します",
		zap.String("reason", string(gerr.Kind)),
		zap.String("target", target))
	c.recordDiagnostic(diag.KindRedirect, "専用画面へ遷移しました", gerr, target)
	c.sink.Navigate(target)
}

func (c *Client) recordDiagnostic(kind diag.Kind, message string, gerr *Error, target string) {
	entry, err := diag.New(kind, message, diag.SessionEndedData{
		Reason:     string(gerr.Kind),
		Target:     target,
		StatusCode: gerr.StatusCode,
		Code:       gerr.Code,
	})
	if err != nil {
		c.logger.Warn("診断記録の作成に失敗", zap.Error(err))
		return
	}
	c.sink.RecordDiagnostic(entry)
}

// reject は拒否したリクエストを計上してエラーを返す。
func (c *Client) reject(err error) error {
	var gerr *Error
	if errors.As(err, &gerr) {
		c.metrics.rejected(gerr.Kind)
	}
	return err
}

// withKind は base をコピーして分類を設定した *Error を返す。
func withKind(base Error, kind Kind) *Error {
	base.Kind = kind
	return &base
}
