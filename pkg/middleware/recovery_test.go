package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestRecovery はRecoveryミドルウェアを検証する。
func TestRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
	}{
		{name: "文字列のパニック", value: "employees の取得中にパニック"},
		{name: "整数のパニック", value: 42},
		{name: "errorのパニック", value: errors.New("nil map への書き込み")},
	}
	for _, tt := range tests {
		t.Run(tt.name+"で500が返ること", func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.Use(Recovery(nil))
			router.POST("/employees/", func(_ *gin.Context) {
				panic(tt.value)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/employees/", nil))

			if w.Code != http.StatusInternalServerError {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("レスポンスボディのパースに失敗: %v", err)
			}
			if body["code"] != CodeServerError {
				t.Errorf("code = %q, want %q", body["code"], CodeServerError)
			}
		})
	}

	t.Run("パニックの後も次のリクエストを処理できること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(Recovery(nil))
		router.GET("/panic", func(_ *gin.Context) { panic("boom") })
		router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

		first := httptest.NewRecorder()
		router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/panic", nil))
		second := httptest.NewRecorder()
		router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))

		if first.Code != http.StatusInternalServerError || second.Code != http.StatusOK {
			t.Errorf("ステータスコード = (%d, %d), want (%d, %d)",
				first.Code, second.Code, http.StatusInternalServerError, http.StatusOK)
		}
	})

	t.Run("パニックの内容がリクエストIDとともにログに出力されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.ErrorLevel)
		router := gin.New()
		router.Use(RequestID(), Recovery(zap.New(core)))
		router.GET("/panic", func(_ *gin.Context) {
			panic("ログ確認用パニック")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		req.Header.Set(HeaderRequestID, "req-panic")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("ログ件数 = %d, want 1", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["request_id"] != "req-panic" {
			t.Errorf("request_id = %v, want %q", fields["request_id"], "req-panic")
		}
		if fields["path"] != "/panic" {
			t.Errorf("path = %v, want %q", fields["path"], "/panic")
		}
		if fields["panic"] != "ログ確認用パニック" {
			t.Errorf("panic = %v", fields["panic"])
		}
	})
}
