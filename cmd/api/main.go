// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-relay/internal/auth"
	"github.com/yourusername/doc-relay/internal/config"
	"github.com/yourusername/doc-relay/internal/convert"
	"github.com/yourusername/doc-relay/internal/notify"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		log.Fatalf("Failed to create work dir %s: %v", cfg.WorkDir, err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	logger := log.Default()

	// 変換パイプラインの構築（外部バイナリの利用可否はここで1度だけ調べる）
	publisher := notify.NewPublisher(cfg, logger)
	var resultPublisher convert.ResultPublisher
	if publisher != nil {
		resultPublisher = publisher
	} else {
		logger.Printf("WEBHOOK_URL is not set; result notification disabled")
	}
	convertService := convert.NewService(cfg, resultPublisher, logger)

	// 非同期ジョブ基盤（Redisに繋がらない場合は同期処理のみで起動する）
	manager, err := setupJobs(cfg, convertService)
	if err != nil {
		logger.Printf("async jobs disabled (redis unavailable): %v", err)
		manager = nil
	} else {
		manager.StartWorkers()
	}

	// ルーティングの設定
	setupRoutes(router, cfg, convertService, manager)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーを返します。
// 起動時に調べた外部バイナリの利用可否も一緒に返します。
func handleHealth(convertService *convert.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tools := convertService.Tools()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "doc-relay-api",
			"version": "0.1.0",
			"tools": gin.H{
				"office":  tools.Office,
				"poppler": tools.Poppler,
				"magick":  tools.Magick,
			},
		})
	}
}
