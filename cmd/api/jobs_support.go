package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/doc-relay/internal/auth"
	"github.com/yourusername/doc-relay/internal/config"
	"github.com/yourusername/doc-relay/internal/convert"
	"github.com/yourusername/doc-relay/internal/jobs"
)

type convertJobScheduler struct {
	manager *jobs.Manager
}

func (s *convertJobScheduler) Schedule(ctx context.Context, jobID string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{JobID: jobID})
	return err
}

func setupJobs(cfg *config.Config, convertService *convert.Service) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, convertService, store, log.Default())
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, convertService *convert.Service, manager *jobs.Manager) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth(convertService))

	authManager := auth.NewManager(cfg)

	opts := convert.HandlerOptions{
		AsyncThresholdBytes: cfg.AsyncThresholdBytes,
	}
	if manager != nil {
		opts.Scheduler = &convertJobScheduler{manager: manager}
	}

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		// アップロードと成果物取得は通知先（LINE/n8n）から認証なしで叩かれる
		api.POST("/convert", convert.ConvertHandler(convertService, opts))
		api.GET("/jobs/:id", jobStatusHandler(manager))
		api.GET("/jobs/:id/download", jobDownloadHandler(convertService))
		api.GET("/jobs/:id/images/:name", jobImageHandler(convertService))

		// 管理系はログイン必須
		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			protected.DELETE("/jobs/:id", convert.DiscardHandler(convertService))
		}
	}
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		if manager == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "非同期ジョブ機能は無効です。",
			})
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"jobId":  record.JobID,
			"status": record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
				"message": record.Progress.Message,
			},
			"updatedAt": record.UpdatedAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDownloadHandler(convertService *convert.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")

		file, size, err := convertService.OpenResultPDF(jobID)
		if err != nil {
			respondFileError(c, err, "ジョブの成果物が見つかりませんでした。")
			return
		}
		defer file.Close()

		filename := "converted.pdf"
		encodedName := url.PathEscape(filename)
		c.Header("Content-Type", "application/pdf")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", jobID)
		c.DataFromReader(http.StatusOK, size, "application/pdf", file, nil)
	}
}

func jobImageHandler(convertService *convert.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		name := c.Param("name")

		file, size, err := convertService.OpenResultImage(jobID, name)
		if err != nil {
			respondFileError(c, err, "指定されたページ画像が見つかりませんでした。")
			return
		}
		defer file.Close()

		contentType := "image/png"
		if strings.HasSuffix(strings.ToLower(name), ".jpg") || strings.HasSuffix(strings.ToLower(name), ".jpeg") {
			contentType = "image/jpeg"
		}

		c.Header("Content-Type", contentType)
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", jobID)
		c.DataFromReader(http.StatusOK, size, contentType, file, nil)
	}
}

func respondFileError(c *gin.Context, err error, notFoundMsg string) {
	var apiErr *convert.Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_RESULT_NOT_FOUND",
			"message": notFoundMsg,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブの成果物取得に失敗しました。",
		})
	}
}
