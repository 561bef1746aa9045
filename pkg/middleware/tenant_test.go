package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

var testOrganizations = map[string]*Organization{
	"org-acme":    {ID: "org-acme", Name: "Acme", Active: true, SubscriptionActive: true},
	"org-globex":  {ID: "org-globex", Name: "Globex", Active: true, SubscriptionActive: false},
	"org-initech": {ID: "org-initech", Name: "Initech", Active: false, SubscriptionActive: true},
	"org-failing": nil,
}

func lookupTestOrganization(_ context.Context, id string) (*Organization, error) {
	org, ok := testOrganizations[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	if org == nil {
		return nil, errors.New("接続エラー")
	}
	return org, nil
}

// TestOrganizationContext はOrganizationContextミドルウェアを検証する。
func TestOrganizationContext(t *testing.T) {
	t.Parallel()

	superuser := Identity{UserID: "admin", Username: "admin", Superuser: true}

	tests := []struct {
		name       string
		identity   Identity
		header     string
		wantStatus int
		wantCode   string
		wantOrg    string
	}{
		{
			name:       "一般ユーザーはトークンの所属組織で処理されること",
			identity:   testIdentity,
			wantStatus: http.StatusOK,
			wantOrg:    "org-acme",
		},
		{
			name:       "一般ユーザーが同じ組織を指定した場合は許可されること",
			identity:   testIdentity,
			header:     "org-acme",
			wantStatus: http.StatusOK,
			wantOrg:    "org-acme",
		},
		{
			name:       "一般ユーザーが別の組織を指定した場合tenant_mismatchが返ること",
			identity:   testIdentity,
			header:     "org-globex",
			wantStatus: http.StatusForbidden,
			wantCode:   CodeTenantMismatch,
		},
		{
			name:       "所属組織が無い場合NO_ORGANIZATIONが返ること",
			identity:   Identity{UserID: "u", Username: "nobody"},
			wantStatus: http.StatusForbidden,
			wantCode:   CodeNoOrganization,
		},
		{
			name:       "所属組織が削除されている場合tenant_not_foundが返ること",
			identity:   Identity{UserID: "u", Username: "ghost", OrganizationID: "org-deleted"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeTenantNotFound,
		},
		{
			name:       "契約切れの組織はSUBSCRIPTION_INACTIVEが返ること",
			identity:   Identity{UserID: "u", Username: "bob", OrganizationID: "org-globex"},
			wantStatus: http.StatusForbidden,
			wantCode:   CodeSubscriptionInactive,
		},
		{
			name:       "無効化された組織はORGANIZATION_INACTIVEが返ること",
			identity:   Identity{UserID: "u", Username: "carol", OrganizationID: "org-initech"},
			wantStatus: http.StatusForbidden,
			wantCode:   CodeOrganizationInactive,
		},
		{
			name:       "組織の取得に失敗した場合500が返ること",
			identity:   Identity{UserID: "u", Username: "dave", OrganizationID: "org-failing"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "スーパーユーザーはヘッダー無しで共有スキーマになること",
			identity:   superuser,
			wantStatus: http.StatusOK,
		},
		{
			name:       "スーパーユーザーがpublicを指定した場合は共有スキーマになること",
			identity:   superuser,
			header:     PublicSchema,
			wantStatus: http.StatusOK,
		},
		{
			name:       "スーパーユーザーは任意の組織を指定できること",
			identity:   superuser,
			header:     "org-globex",
			wantStatus: http.StatusOK,
			wantOrg:    "org-globex",
		},
		{
			name:       "スーパーユーザーが存在しない組織を指定した場合400が返ること",
			identity:   superuser,
			header:     "org-unknown",
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidOrganization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token, err := GenerateJWT(testSecret, tt.identity, TokenTypeAccess, time.Hour)
			if err != nil {
				t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
			}

			var gotOrg string
			router := gin.New()
			router.Use(JWTAuth(testSecret), OrganizationContext(lookupTestOrganization))
			router.GET("/test", func(c *gin.Context) {
				if org := GetOrganization(c); org != nil {
					gotOrg = org.ID
				}
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			if tt.header != "" {
				req.Header.Set(HeaderOrganizationID, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("ステータスコード = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if gotOrg != tt.wantOrg {
				t.Errorf("組織 = %q, want %q", gotOrg, tt.wantOrg)
			}
			if tt.wantCode != "" {
				if got := responseCode(t, w.Body.Bytes()); got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
			}
		})
	}
}

// TestRequireOrganization はRequireOrganizationミドルウェアを検証する。
func TestRequireOrganization(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(JWTAuth(testSecret), OrganizationContext(lookupTestOrganization), RequireOrganization())
	router.GET("/employees", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"organization": GetOrganization(c).ID})
	})

	t.Run("共有スキーマではtenant_requiredの401が返ること", func(t *testing.T) {
		t.Parallel()

		token, err := GenerateJWT(testSecret, Identity{UserID: "admin", Superuser: true}, TokenTypeAccess, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/employees", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if got := responseCode(t, w.Body.Bytes()); got != CodeTenantRequired {
			t.Errorf("code = %q, want %q", got, CodeTenantRequired)
		}
	})

	t.Run("組織が解決されていれば処理されること", func(t *testing.T) {
		t.Parallel()

		token, err := GenerateJWT(testSecret, testIdentity, TokenTypeAccess, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/employees", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

// responseCode はエラーレスポンスからコードを取り出す。{"code": ...} と {"error": {"code": ...}} の両方に対応する。
func responseCode(t *testing.T, body []byte) string {
	t.Helper()

	var flat struct {
		Code  string          `json:"code"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	if flat.Code != "" {
		return flat.Code
	}
	var nested struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(flat.Error, &nested)
	return nested.Code
}
