package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS レスポンスヘッダーの値。テナントと拠点のヘッダーをブラウザから送れるようにする。
const (
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders  = "Authorization, Content-Type, " + HeaderOrganizationID + ", " + HeaderBranchID + ", " + HeaderRequestID
	corsExposeHeaders = HeaderRequestID
)

// originMatcher は許可オリジンの一覧を照合する。
// "https://*.example.com" の形式でテナントごとのサブドメインをまとめて許可できる。
type originMatcher struct {
	exact    map[string]struct{}
	suffixes []suffixPattern
}

type suffixPattern struct {
	scheme string
	suffix string
}

func newOriginMatcher(allowedOrigins []string) originMatcher {
	m := originMatcher{exact: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		scheme, host, ok := strings.Cut(o, "://*.")
		if ok && host != "" {
			m.suffixes = append(m.suffixes, suffixPattern{scheme: scheme + "://", suffix: "." + host})
			continue
		}
		m.exact[o] = struct{}{}
	}
	return m
}

func (m originMatcher) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, p := range m.suffixes {
		rest, ok := strings.CutPrefix(origin, p.scheme)
		if ok && strings.HasSuffix(rest, p.suffix) && len(rest) > len(p.suffix) {
			return true
		}
	}
	return false
}

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// OPTIONS のプリフライトはハンドラーに渡さず 204 で応答する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	matcher := newOriginMatcher(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Writer.Header().Add("Vary", "Origin")
		if matcher.allowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Expose-Headers", corsExposeHeaders)
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
