package devserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/hrgate/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// Config は開発用バックエンドの設定。
type Config struct {
	// DSN はSQLiteの接続文字列。
	DSN string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// AccessTokenTTL はアクセストークンの有効期間。
	AccessTokenTTL time.Duration
	// RefreshTokenTTL はリフレッシュトークンの有効期間。
	RefreshTokenTTL time.Duration
	// AllowedOrigins はCORSを許可するオリジン。
	AllowedOrigins []string
	// PasswordCost はデモユーザーのパスワードハッシュのコスト。0の場合は bcrypt.DefaultCost。
	PasswordCost int
	// AccessLog はgin.Loggerによるアクセスログを出力するかどうか。
	AccessLog bool
	// Logger はサーバーのロガー。
	Logger *zap.Logger
	// Registry はメトリクスの登録先。nilの場合は新しいレジストリを使用する。
	Registry *prometheus.Registry
}

// Server は開発用バックエンドのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// store はSQLiteのデータアクセス層。
	store *store
	// logger はサーバーのロガー。
	logger *zap.Logger
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// accessTTL はアクセストークンの有効期間。
	accessTTL time.Duration
	// refreshTTL はリフレッシュトークンの有効期間。
	refreshTTL time.Duration
	// maintenance はメンテナンスモード中かどうか。
	maintenance atomic.Bool
	// registry はメトリクスのレジストリ。
	registry *prometheus.Registry
	// requests はリクエスト数のカウンター。
	requests *prometheus.CounterVec
}

// New は新しい開発用バックエンドを生成する。
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWTシークレットが設定されていません")
	}
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 5 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 24 * time.Hour
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	logger := cfg.Logger.Named("devserver")

	st, err := openStore(ctx, cfg.DSN, logger)
	if err != nil {
		return nil, err
	}
	if err := seed(ctx, st, cfg.PasswordCost); err != nil {
		st.close()
		return nil, fmt.Errorf("デモデータの投入に失敗: %w", err)
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hrgate",
		Subsystem: "devserver",
		Name:      "requests_total",
		Help:      "ルートとステータスごとのリクエスト数。",
	}, []string{"method", "route", "status"})
	if err := cfg.Registry.Register(requests); err != nil {
		st.close()
		return nil, fmt.Errorf("メトリクスの登録に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	if cfg.AccessLog {
		router.Use(gin.Logger())
	}
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(cfg.AllowedOrigins))
	}

	s := &Server{
		router:     router,
		store:      st,
		logger:     logger,
		jwtSecret:  cfg.JWTSecret,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		registry:   cfg.Registry,
		requests:   requests,
	}
	router.Use(s.countRequests())
	s.setupRoutes()

	return s, nil
}

// NewFromEnv は環境変数から設定を読み込んで開発用バックエンドを生成する。
func NewFromEnv(ctx context.Context, logger *zap.Logger) (*Server, error) {
	accessTTL, err := time.ParseDuration(getEnvOr("ACCESS_TOKEN_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL の解析に失敗: %w", err)
	}
	refreshTTL, err := time.ParseDuration(getEnvOr("REFRESH_TOKEN_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL の解析に失敗: %w", err)
	}

	return New(ctx, Config{
		DSN:             getEnvOr("DB_PATH", "hrgate-devserver.db") + "?_pragma=busy_timeout(5000)",
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
		AllowedOrigins:  strings.Split(getEnvOr("FRONTEND_URL", "http://localhost:3000"), ","),
		AccessLog:       true,
		Logger:          logger,
	})
}

// Handler はサーバーのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.store.close()
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run(port string) error {
	return s.router.Run(fmt.Sprintf(":%s", port))
}

// SetMaintenance はメンテナンスモードを切り替える。
func (s *Server) SetMaintenance(enabled bool) {
	s.maintenance.Store(enabled)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	// 開発用の操作（メンテナンスモードの影響を受けない）
	dev := api.Group("/dev")
	{
		dev.POST("/maintenance", s.handleMaintenance())
		dev.DELETE("/users/:username", s.handleDeleteUser())
		dev.DELETE("/organizations/:id", s.handleDeleteOrganization())
	}

	v1 := api.Group("")
	v1.Use(s.maintenanceGate())

	// 認証エンドポイント（認証不要）
	auth := v1.Group("/auth")
	{
		auth.POST("/login/", s.handleLogin())
		auth.POST("/token/refresh/", s.handleRefresh())
		auth.POST("/token/verify/", s.handleVerify())
		auth.POST("/password/reset/", s.handlePasswordReset())
	}

	// 認証必須の認証エンドポイント
	authed := v1.Group("/auth")
	authed.Use(middleware.JWTAuth(s.jwtSecret), s.requireUser())
	{
		authed.POST("/logout/", s.handleLogout())
		authed.GET("/me/", s.handleMe())
	}

	// テナント固有のエンドポイント
	tenant := v1.Group("")
	tenant.Use(
		middleware.JWTAuth(s.jwtSecret),
		s.requireUser(),
		middleware.OrganizationContext(s.store.organization),
		middleware.RequireOrganization(),
	)
	{
		tenant.GET("/auth/branches/my-branches/", s.handleMyBranches())
		tenant.POST("/auth/branches/switch-branch/", s.handleSwitchBranch())
		tenant.GET("/auth/branches/current-branch/", s.handleCurrentBranch())

		tenant.GET("/employees/", s.handleListEmployees())
		tenant.POST("/employees/", s.handleCreateEmployee())
		tenant.GET("/employees/:id/", s.handleGetEmployee())
		tenant.GET("/leave/", s.handleListLeave())
		tenant.POST("/leave/", s.handleCreateLeave())
		tenant.GET("/payroll/", s.handleListPayroll())
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if s.maintenance.Load() {
			status = "maintenance"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "service": "hrgate-devserver"})
	})
}

// maintenanceGate はメンテナンスモード中のリクエストを503で拒否するGinミドルウェアを返す。
func (s *Server) maintenanceGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.maintenance.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"detail": "メンテナンス中です",
				"code":   "maintenance",
			})
			return
		}
		c.Next()
	}
}

// countRequests はリクエスト数を記録するGinミドルウェアを返す。
func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// handleMaintenance はメンテナンスモードを切り替えるハンドラを返す。
func (s *Server) handleMaintenance() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
			return
		}
		s.SetMaintenance(req.Enabled)
		s.logger.Info("メンテナンスモードを切り替えました", zap.Bool("enabled", req.Enabled))
		c.JSON(http.StatusOK, gin.H{"maintenance": req.Enabled})
	}
}

// handleDeleteUser はユーザーを削除するハンドラを返す。削除後のトークン更新は user_not_found になる。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := s.store.deleteUser(c.Request.Context(), c.Param("username"))
		if err != nil {
			s.logger.Error("ユーザー削除エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの削除に失敗しました"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleDeleteOrganization は組織を削除するハンドラを返す。所属ユーザーの以後のリクエストは tenant_not_found になる。
func (s *Server) handleDeleteOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := s.store.deleteOrganization(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.logger.Error("組織削除エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "組織の削除に失敗しました"})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
