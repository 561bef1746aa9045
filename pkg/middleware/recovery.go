package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CodeServerError はパニックから回復した応答のエラーコード。
const CodeServerError = "server_error"

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にリクエストIDとスタックトレースをログに出力し、500エラーを返す。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("パニックから回復しました",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"detail": "内部サーバーエラーが発生しました",
					"code":   CodeServerError,
				})
			}
		}()
		c.Next()
	}
}
