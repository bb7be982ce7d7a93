// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/recipe-box/internal/auth"
	"github.com/yourusername/recipe-box/internal/config"
	"github.com/yourusername/recipe-box/internal/logger"
	"github.com/yourusername/recipe-box/internal/server"
	"github.com/yourusername/recipe-box/internal/store"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	st, err := store.Open(store.Options{
		DatabaseURL: cfg.DatabaseURL,
		BcryptCost:  cfg.BcryptCost,
		Logger:      appLogger,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	limiter, err := auth.NewLimiter(cfg.LoginLimiterRedisURL, auth.LimiterOptions{
		MaxAttempts:  cfg.LoginMaxAttempts,
		Window:       cfg.LoginWindow,
		LockDuration: cfg.LoginLockDuration,
	})
	if err != nil {
		log.Fatalf("Failed to set up login limiter: %v", err)
	}

	router := server.NewRouter(server.Deps{
		Config:  cfg,
		Store:   st,
		Limiter: limiter,
		Logger:  appLogger,
	})

	// サーバーの起動
	addr := ":" + cfg.Port
	appLogger.Info("starting API server", "addr", addr, "mode", cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
