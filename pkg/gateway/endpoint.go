package gateway

import "strings"

// DefaultAuthExemptPaths はテナント確定前でも呼び出せる認証系エンドポイントのパス断片。
// ログイン、トークン更新、パスワードリセット、二要素認証が該当する。
var DefaultAuthExemptPaths = []string{
	"/auth/login/",
	"/auth/token/refresh/",
	"/auth/password/reset/",
	"/auth/2fa/",
}

// DefaultRefreshPath はトークン更新エンドポイントのパス。
const DefaultRefreshPath = "/auth/token/refresh/"

// isAuthExempt はパスが認証系エンドポイントに該当するかどうかを判定する。
func isAuthExempt(path string, exemptPaths []string) bool {
	for _, p := range exemptPaths {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}
