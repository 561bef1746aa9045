package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// テナント解決に関するヘッダーと値。
const (
	// HeaderOrganizationID は操作対象の組織を指定するヘッダー名。
	HeaderOrganizationID = "X-Organization-ID"
	// HeaderBranchID は操作対象の拠点を指定するヘッダー名。
	HeaderBranchID = "X-Branch-ID"
	// PublicSchema はスーパーユーザーが組織を指定しない場合の共有スキーマ名。
	PublicSchema = "public"
)

// テナント解決に失敗した場合に返すエラーコード。
const (
	CodeTenantMismatch       = "tenant_mismatch"
	CodeTenantNotFound       = "tenant_not_found"
	CodeTenantRequired       = "tenant_required"
	CodeNoOrganization       = "NO_ORGANIZATION"
	CodeInvalidOrganization  = "INVALID_ORGANIZATION"
	CodeOrganizationInactive = "ORGANIZATION_INACTIVE"
	CodeSubscriptionInactive = "SUBSCRIPTION_INACTIVE"
)

// ErrOrganizationNotFound は組織が存在しないことを表す。
var ErrOrganizationNotFound = errors.New("組織が見つかりません")

// Organization はリクエストの対象となる組織（テナント）。
type Organization struct {
	// ID は組織の一意識別子。
	ID string `json:"id"`
	// Name は組織名。
	Name string `json:"name"`
	// Active は組織が有効かどうか。
	Active bool `json:"-"`
	// SubscriptionActive は契約が有効かどうか。
	SubscriptionActive bool `json:"-"`
}

// OrganizationLookup はIDから組織を取得する。存在しない場合は ErrOrganizationNotFound を返す。
type OrganizationLookup func(ctx context.Context, id string) (*Organization, error)

const contextKeyOrganization = "organization"

// OrganizationContext はリクエストの対象組織を解決するGinミドルウェアを返す。
// JWTAuth の後に適用すること。
//
// スーパーユーザーはヘッダーで任意の組織を指定でき、未指定または "public" の場合は共有スキーマで処理する。
// 一般ユーザーはトークンの所属組織に固定され、ヘッダーが異なる組織を指す場合は tenant_mismatch で拒否する。
func OrganizationContext(lookup OrganizationLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "認証情報がありません",
				"code":   "not_authenticated",
			})
			return
		}
		requested := c.GetHeader(HeaderOrganizationID)

		if claims.Superuser {
			if requested == "" || requested == PublicSchema {
				c.Next()
				return
			}
			org, err := lookup(c.Request.Context(), requested)
			if errors.Is(err, ErrOrganizationNotFound) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "指定された組織は存在しません",
					"code":  CodeInvalidOrganization,
				})
				return
			}
			if err != nil {
				abortLookupFailure(c)
				return
			}
			c.Set(contextKeyOrganization, org)
			c.Next()
			return
		}

		if claims.OrganizationID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "ユーザーが組織に所属していません",
				"code":  CodeNoOrganization,
			})
			return
		}
		if requested != "" && requested != claims.OrganizationID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "tenant_mismatch: 所属組織と異なる組織へのアクセスです",
				"code":  CodeTenantMismatch,
			})
			return
		}

		org, err := lookup(c.Request.Context(), claims.OrganizationID)
		if errors.Is(err, ErrOrganizationNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    CodeTenantNotFound,
					"message": "所属組織が見つかりません",
				},
			})
			return
		}
		if err != nil {
			abortLookupFailure(c)
			return
		}
		if !org.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "組織が無効化されています",
				"code":  CodeOrganizationInactive,
			})
			return
		}
		if !org.SubscriptionActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "契約が有効ではありません",
				"code":  CodeSubscriptionInactive,
			})
			return
		}

		c.Set(contextKeyOrganization, org)
		c.Next()
	}
}

func abortLookupFailure(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "組織の取得に失敗しました",
	})
}

// RequireOrganization は組織が解決されていないリクエストを拒否するGinミドルウェアを返す。
// 共有スキーマでは処理できないテナント固有のエンドポイントに適用する。
func RequireOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetOrganization(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "tenant context required",
				"code":   CodeTenantRequired,
			})
			return
		}
		c.Next()
	}
}

// GetOrganization はGinコンテキストから解決済みの組織を取得する。共有スキーマの場合は nil を返す。
func GetOrganization(c *gin.Context) *Organization {
	v, _ := c.Get(contextKeyOrganization)
	org, _ := v.(*Organization)
	return org
}
