package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID はリクエストを相関付けるためのヘッダー名。
const HeaderRequestID = "X-Request-ID"

const contextKeyRequestID = "request_id"

// RequestID はリクエストIDを引き継ぐGinミドルウェアを返す。
// クライアントが付与したIDはそのまま使い、無ければ生成する。レスポンスにも同じIDを返す。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(contextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
