package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestOriginMatcher(t *testing.T) {
	t.Parallel()

	m := newOriginMatcher([]string{"http://localhost:3000", "https://*.hrgate.example"})

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "http://localhost:3000", want: true},
		{origin: "https://acme.hrgate.example", want: true},
		{origin: "https://tokyo.acme.hrgate.example", want: true},
		{origin: "https://hrgate.example", want: false},
		{origin: "https://.hrgate.example", want: false},
		{origin: "http://acme.hrgate.example", want: false},
		{origin: "https://acme.hrgate.example.evil.com", want: false},
		{origin: "http://localhost:3001", want: false},
		{origin: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			t.Parallel()

			if got := m.allowed(tt.origin); got != tt.want {
				t.Errorf("allowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		wantHandled bool
	}{
		{
			name:        "許可されたオリジンのGETにCORSヘッダーが付くこと",
			method:      http.MethodGet,
			origin:      "http://localhost:3000",
			wantStatus:  http.StatusOK,
			wantOrigin:  "http://localhost:3000",
			wantHandled: true,
		},
		{
			name:        "テナントのサブドメインを許可できること",
			method:      http.MethodGet,
			origin:      "https://acme.hrgate.example",
			wantStatus:  http.StatusOK,
			wantOrigin:  "https://acme.hrgate.example",
			wantHandled: true,
		},
		{
			name:        "許可されていないオリジンにはCORSヘッダーが付かないこと",
			method:      http.MethodGet,
			origin:      "https://evil.com",
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
		{
			name:        "Originが無いリクエストはそのまま処理されること",
			method:      http.MethodGet,
			wantStatus:  http.StatusOK,
			wantHandled: true,
		},
		{
			name:       "プリフライトは204で中断されること",
			method:     http.MethodOptions,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			wantOrigin: "http://localhost:3000",
		},
		{
			name:       "許可されていないオリジンのプリフライトもハンドラーに渡さないこと",
			method:     http.MethodOptions,
			origin:     "https://evil.com",
			wantStatus: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handled := false
			router := gin.New()
			router.Use(CORS([]string{"http://localhost:3000", "https://*.hrgate.example"}))
			router.Handle(tt.method, "/employees/", func(c *gin.Context) {
				handled = true
				c.JSON(http.StatusOK, gin.H{"count": 0})
			})

			req := httptest.NewRequest(tt.method, "/employees/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if handled != tt.wantHandled {
				t.Errorf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want %q", got, "Origin")
			}
			if tt.wantOrigin == "" {
				return
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type, X-Organization-ID, X-Branch-ID, X-Request-ID" {
				t.Errorf("Access-Control-Allow-Headers = %q", got)
			}
			if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID" {
				t.Errorf("Access-Control-Expose-Headers = %q, want %q", got, "X-Request-ID")
			}
		})
	}
}
