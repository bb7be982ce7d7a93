// Package server は gin ルーターの組み立てを行います。
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/recipe-box/internal/api"
	"github.com/yourusername/recipe-box/internal/auth"
	"github.com/yourusername/recipe-box/internal/config"
	"github.com/yourusername/recipe-box/internal/recipes"
	"github.com/yourusername/recipe-box/internal/session"
	"github.com/yourusername/recipe-box/internal/store"
)

// Store はルーターが必要とするストアの操作をまとめたものです。
type Store interface {
	auth.UserStore
	recipes.Store
}

// Deps はルーターの依存関係です。
type Deps struct {
	Config  *config.Config
	Store   Store
	Limiter auth.Limiter
	Logger  *slog.Logger
}

// NewRouter はミドルウェアとルーティングを設定した gin.Engine を返します。
func NewRouter(deps Deps) *gin.Engine {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger), gin.Recovery())

	// CORSミドルウェアの設定（セッションクッキーを送るため資格情報を許可）
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
		corsConfig.ExposeHeaders = []string{requestIDHeader}
		router.Use(cors.New(corsConfig))
	}

	cookieStore := session.NewCookieStore(cfg.SessionKey(), cfg.SessionMaxAge, cfg.GinMode == gin.ReleaseMode)
	router.Use(session.Middleware(cookieStore))

	setupRoutes(router, deps, session.NewManager(cfg.SessionMaxAge, cfg.SessionIdleTimeout), logger)
	return router
}

func setupRoutes(router *gin.Engine, deps Deps, sessions *session.Manager, logger *slog.Logger) {
	router.GET("/health", handleHealth)

	authHandler := auth.NewHandler(deps.Store, deps.Limiter)
	recipeHandler := recipes.NewHandler(deps.Store)

	router.POST("/signup", api.Adapt(sessions, logger, authHandler.Signup))
	router.GET("/check_session", api.Adapt(sessions, logger, authHandler.CheckSession))
	router.POST("/login", api.Adapt(sessions, logger, authHandler.Login))
	router.DELETE("/logout", api.Adapt(sessions, logger, authHandler.Logout))

	router.GET("/recipes", api.Adapt(sessions, logger, recipeHandler.List))
	router.POST("/recipes", api.Adapt(sessions, logger, recipeHandler.Create))
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "recipe-box-api",
	})
}

var _ Store = (*store.Store)(nil)
