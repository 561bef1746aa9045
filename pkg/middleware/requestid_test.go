package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRequestID はRequestIDミドルウェアを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	newRouter := func(got *string) *gin.Engine {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			*got = GetRequestID(c)
			c.Status(http.StatusNoContent)
		})
		return router
	}

	t.Run("クライアントのリクエストIDを引き継ぐこと", func(t *testing.T) {
		t.Parallel()

		var got string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderRequestID, "req-abc")
		w := httptest.NewRecorder()
		newRouter(&got).ServeHTTP(w, req)

		if got != "req-abc" {
			t.Errorf("GetRequestID() = %q, want %q", got, "req-abc")
		}
		if h := w.Header().Get(HeaderRequestID); h != "req-abc" {
			t.Errorf("%s = %q, want %q", HeaderRequestID, h, "req-abc")
		}
	})

	t.Run("リクエストIDが無い場合はUUIDを生成すること", func(t *testing.T) {
		t.Parallel()

		var got string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		newRouter(&got).ServeHTTP(w, req)

		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("GetRequestID() = %q, UUIDではない: %v", got, err)
		}
		if h := w.Header().Get(HeaderRequestID); h != got {
			t.Errorf("%s = %q, want %q", HeaderRequestID, h, got)
		}
	})
}
