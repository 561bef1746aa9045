package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer はトークンの発行者。
const Issuer = "hrgate-devserver"

// TokenType はトークンの用途を表す。
type TokenType string

const (
	// TokenTypeAccess はAPI呼び出しに使用する短命のトークン。
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh はアクセストークンの更新に使用する長命のトークン。
	TokenTypeRefresh TokenType = "refresh"
)

// CodeTokenNotValid はトークンが無効な場合にバックエンドが返すエラーコード。
const CodeTokenNotValid = "token_not_valid"

// Identity はトークンに埋め込むユーザー情報。
type Identity struct {
	// UserID は認証済みユーザーの一意識別子。
	UserID string
	// Username はログイン名。
	Username string
	// OrganizationID は所属組織のID。スーパーユーザーは空。
	OrganizationID string
	// Superuser はスーパーユーザーかどうか。
	Superuser bool
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Username はログイン名。
	Username string `json:"username"`
	// OrganizationID は所属組織のID。
	OrganizationID string `json:"org_id,omitempty"`
	// Superuser はスーパーユーザーかどうか。
	Superuser bool `json:"is_superuser"`
	// TokenType はトークンの用途。
	TokenType TokenType `json:"token_type"`
}

// Identity はクレームに含まれるユーザー情報を返す。
func (c *JWTClaims) Identity() Identity {
	return Identity{
		UserID:         c.UserID,
		Username:       c.Username,
		OrganizationID: c.OrganizationID,
		Superuser:      c.Superuser,
	}
}

// ErrTokenType はトークンの用途が期待と異なることを表す。
var ErrTokenType = errors.New("トークンの種類が不正です")

// GenerateJWT はユーザー情報から指定した用途のJWTトークンを生成する。
// トークンごとに一意のID（jti）を付与し、失効管理に使用する。
func GenerateJWT(secret string, id Identity, tokenType TokenType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
		UserID:         id.UserID,
		Username:       id.Username,
		OrganizationID: id.OrganizationID,
		Superuser:      id.Superuser,
		TokenType:      tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークンを検証し、用途が want であることを確認してクレームを返す。
func ParseJWT(secret, tokenString string, want TokenType) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	if claims.TokenType != want {
		return nil, ErrTokenType
	}
	return claims, nil
}

// JWTAuth はアクセストークンを検証するGinミドルウェアを返す。
// 検証に失敗した場合はDRF互換の {"detail": ..., "code": "token_not_valid"} を401で返す。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Authorizationヘッダーが必要です",
				"code":   "not_authenticated",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Bearer トークン形式が不正です",
				"code":   "not_authenticated",
			})
			return
		}

		claims, err := ParseJWT(secret, tokenString, TokenTypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "トークンが無効または期限切れです",
				"code":   CodeTokenNotValid,
			})
			return
		}

		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// contextKeyClaims はGinコンテキストにクレームを格納するキー。
const contextKeyClaims = "jwt_claims"

// GetClaims はGinコンテキストからクレームを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetClaims(c *gin.Context) *JWTClaims {
	v, _ := c.Get(contextKeyClaims)
	claims, _ := v.(*JWTClaims)
	return claims
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
func GetUserID(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.UserID
	}
	return ""
}
