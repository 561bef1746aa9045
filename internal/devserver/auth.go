package devserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/hrgate/pkg/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// codeUserNotFound はトークンの所有者が削除済みの場合のエラーコード。
const codeUserNotFound = "user_not_found"

const contextKeyUser = "devserver_user"

// tokenPair はアクセストークンとリフレッシュトークンの組。
type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// issueTokens はユーザーのトークンの組を発行する。
func (s *Server) issueTokens(u *user) (tokenPair, error) {
	access, err := middleware.GenerateJWT(s.jwtSecret, u.identity(), middleware.TokenTypeAccess, s.accessTTL)
	if err != nil {
		return tokenPair{}, err
	}
	refresh, err := middleware.GenerateJWT(s.jwtSecret, u.identity(), middleware.TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return tokenPair{}, err
	}
	return tokenPair{Access: access, Refresh: refresh}, nil
}

// requireUser はトークンの所有者が存在することを確認するGinミドルウェアを返す。
// JWTAuth の後に適用すること。
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.store.userByID(c.Request.Context(), middleware.GetUserID(c))
		if errors.Is(err, errNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "User not found",
				"code":   codeUserNotFound,
			})
			return
		}
		if err != nil {
			s.logger.Error("ユーザー取得エラー", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}
		c.Set(contextKeyUser, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) *user {
	v, _ := c.Get(contextKeyUser)
	u, _ := v.(*user)
	return u
}

// userResponse はログイン応答と /auth/me/ で返すユーザー情報を組み立てる。
func (s *Server) userResponse(c *gin.Context, u *user) gin.H {
	ctx := c.Request.Context()
	resp := gin.H{
		"id":           u.ID,
		"username":     u.Username,
		"email":        u.Email,
		"is_superuser": u.Superuser,
		"organization": nil,
		"branch":       nil,
	}
	if u.OrganizationID != "" {
		if org, err := s.store.organization(ctx, u.OrganizationID); err == nil {
			resp["organization"] = org
		}
		if u.BranchID != "" {
			if b, err := s.store.branch(ctx, u.OrganizationID, u.BranchID); err == nil {
				resp["branch"] = b
			}
		}
	}
	return resp
}

// handleLogin はユーザー名とパスワードでトークンを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username と password は必須です"})
			return
		}

		u, err := s.store.userByUsername(c.Request.Context(), req.Username)
		if err != nil && !errors.Is(err, errNotFound) {
			s.logger.Error("ユーザー取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}
		if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"detail": "No active account found with the given credentials",
				"code":   "no_active_account",
			})
			return
		}

		tokens, err := s.issueTokens(u)
		if err != nil {
			s.logger.Error("JWT生成エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		s.logger.Info("ログインしました", zap.String("username", u.Username))
		c.JSON(http.StatusOK, gin.H{
			"tokens": tokens,
			"user":   s.userResponse(c, u),
		})
	}
}

// handleRefresh はリフレッシュトークンを検証して新しいトークンの組を発行するハンドラを返す。
// 使用済みのリフレッシュトークンは失効させる。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Refresh string `json:"refresh" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"refresh": []string{"This field is required."}})
			return
		}
		ctx := c.Request.Context()

		claims, err := middleware.ParseJWT(s.jwtSecret, req.Refresh, middleware.TokenTypeRefresh)
		if err != nil {
			abortTokenNotValid(c)
			return
		}

		u, err := s.store.userByID(ctx, claims.UserID)
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    codeUserNotFound,
					"message": "トークンの所有者が存在しません",
				},
			})
			return
		}
		if err != nil {
			s.logger.Error("ユーザー取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}

		fresh, err := s.store.blacklist(ctx, claims.ID, claims.UserID)
		if err != nil {
			s.logger.Error("トークン失効エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの失効に失敗しました"})
			return
		}
		if !fresh {
			abortTokenNotValid(c)
			return
		}

		tokens, err := s.issueTokens(u)
		if err != nil {
			s.logger.Error("JWT生成エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, tokens)
	}
}

// handleVerify はトークンが有効かどうかを返すハンドラを返す。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"token": []string{"This field is required."}})
			return
		}
		if _, err := middleware.ParseJWT(s.jwtSecret, req.Token, middleware.TokenTypeAccess); err != nil {
			claims, refreshErr := middleware.ParseJWT(s.jwtSecret, req.Token, middleware.TokenTypeRefresh)
			if refreshErr != nil {
				abortTokenNotValid(c)
				return
			}
			if revoked, err := s.store.blacklisted(c.Request.Context(), claims.ID); err != nil || revoked {
				abortTokenNotValid(c)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{})
	}
}

// handlePasswordReset はパスワードリセットを受け付けるハンドラを返す。
// 登録の有無を漏らさないよう常に成功を返す。
func (s *Server) handlePasswordReset() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"email": []string{"This field is required."}})
			return
		}
		s.logger.Info("パスワードリセットを受け付けました", zap.String("email", req.Email))
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleLogout はリフレッシュトークンを失効させるハンドラを返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Refresh string `json:"refresh"`
		}
		_ = c.ShouldBindJSON(&req)

		if req.Refresh != "" {
			claims, err := middleware.ParseJWT(s.jwtSecret, req.Refresh, middleware.TokenTypeRefresh)
			if err == nil && claims.UserID == middleware.GetUserID(c) {
				if _, err := s.store.blacklist(c.Request.Context(), claims.ID, claims.UserID); err != nil {
					s.logger.Warn("ログアウト時のトークン失効に失敗", zap.Error(err))
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleMe は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.userResponse(c, currentUser(c)))
	}
}

// handleMyBranches は対象組織の拠点一覧を返すハンドラを返す。
func (s *Server) handleMyBranches() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := middleware.GetOrganization(c)
		branches, err := s.store.branches(c.Request.Context(), org.ID)
		if err != nil {
			s.logger.Error("拠点一覧取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "拠点一覧の取得に失敗しました"})
			return
		}
		current := ""
		if u := currentUser(c); u.OrganizationID == org.ID {
			current = u.BranchID
		}
		c.JSON(http.StatusOK, gin.H{
			"branches":          branches,
			"current_branch_id": current,
		})
	}
}

// handleSwitchBranch は選択中の拠点を切り替えるハンドラを返す。
func (s *Server) handleSwitchBranch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			BranchID string `json:"branch_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "branch_id は必須です"})
			return
		}
		ctx := c.Request.Context()
		org := middleware.GetOrganization(c)

		b, err := s.store.branch(ctx, org.ID, req.BranchID)
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "branch_not_found", "message": "拠点が見つかりません"}})
			return
		}
		if err != nil {
			s.logger.Error("拠点取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "拠点の取得に失敗しました"})
			return
		}
		if err := s.store.setUserBranch(ctx, currentUser(c).ID, b.ID); err != nil {
			s.logger.Error("拠点切り替えエラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "拠点の切り替えに失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "branch": b})
	}
}

// handleCurrentBranch は選択中の拠点を返すハンドラを返す。X-Branch-ID ヘッダーが優先される。
func (s *Server) handleCurrentBranch() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := middleware.GetOrganization(c)
		id := c.GetHeader(middleware.HeaderBranchID)
		if id == "" {
			if u := currentUser(c); u.OrganizationID == org.ID {
				id = u.BranchID
			}
		}
		if id == "" {
			c.JSON(http.StatusOK, gin.H{"branch": nil})
			return
		}
		b, err := s.store.branch(c.Request.Context(), org.ID, id)
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusOK, gin.H{"branch": nil})
			return
		}
		if err != nil {
			s.logger.Error("拠点取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "拠点の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"branch": b})
	}
}

func abortTokenNotValid(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"detail": "Token is invalid or expired",
		"code":   middleware.CodeTokenNotValid,
	})
}
