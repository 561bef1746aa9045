package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ゲートウェイが付与するリクエストヘッダー。
const (
	HeaderAuthorization  = "Authorization"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderBranchID       = "X-Branch-ID"
	HeaderRequestID      = "X-Request-ID"
)

// intercept は送信前のリクエストに認証・テナント・拠点ヘッダーを付与する。
// テナント未確定のままテナントスコープのエンドポイントを呼び出した場合は
// ネットワークに出さずに ErrTenantNotReady を返す。
func (c *Client) intercept(ctx context.Context, req *Request) (*http.Request, error) {
	header := make(http.Header, len(req.Header)+6)
	for k, v := range req.Header {
		header[k] = append([]string(nil), v...)
	}

	bearer := req.bearer
	if bearer == "" {
		bearer = c.session.Tokens().Access
	}
	if !req.noAuth && bearer != "" {
		header.Set(HeaderAuthorization, "Bearer "+bearer)
		req.sentBearer = bearer
	}

	// トークン更新は設定された除外パスに関係なく常に認証除外とする。
	exempt := req.Path == c.refreshPath || isAuthExempt(req.Path, c.exemptPaths)

	// 監査用に認証系エンドポイントにも組織IDを付与する
	if org := c.resolveOrganization(); org != "" {
		header.Set(HeaderOrganizationID, org)
	}

	if !exempt && !c.session.IsSuperuser() {
		branch := req.BranchID
		if branch == "" {
			branch = c.registers.Branch().BranchID
		}
		if branch != "" {
			header.Set(HeaderBranchID, branch)
		}
	}

	if !exempt && !c.registers.Tenant().Ready {
		c.logger.Debug("テナント未確定のためリクエストを送信しません",
			zap.String("method", req.Method), zap.String("path", req.Path))
		return nil, c.reject(&Error{
			Kind:    KindTenantNotReady,
			Code:    CodeTenantNotReady,
			Message: "テナントが確定していません",
		})
	}

	if header.Get(HeaderRequestID) == "" {
		header.Set(HeaderRequestID, uuid.New().String())
	}
	if len(req.Body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.requestURL(req.Path, req.Query), bodyReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	httpReq.Header = header
	return httpReq, nil
}

// resolveOrganization はリクエストに付与する組織IDを決定する。
// セッションに紐付けられた組織、登録済みのテナント、スーパーユーザーの "public" の順に優先する。
func (c *Client) resolveOrganization() string {
	if org := c.session.BoundOrganizationID(); org != "" {
		return org
	}
	if org := c.registers.Tenant().OrganizationID; org != "" {
		return org
	}
	if c.session.IsSuperuser() {
		return PublicOrganization
	}
	return ""
}
