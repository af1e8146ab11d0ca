package convert

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConvertService は変換ジョブの準備と実行を提供します。
type ConvertService interface {
	PrepareJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
	RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*ConversionResult, error)
	DiscardJob(jobID string) error
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
}

// ConvertHandler は POST /api/convert のハンドラーを返します。
// 閾値以下のファイルは同期で処理し、結果のサマリーをそのまま返します。
// 閾値を超えるファイルはキューに投入し、jobId を返します。
func ConvertHandler(svc ConvertService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "multipart/form-data でファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if shouldProcessAsync(manifest, opts) {
			if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.JobID); err != nil {
				if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
			return
		}

		result, err := svc.RunJob(c.Request.Context(), manifest.JobID, nil)
		if err != nil {
			respondWithError(c, err)
			return
		}

		// 成果物は期限付きで残る（通知先がURL経由で取得するため）ので
		// ここでは Cleanup しない
		c.JSON(http.StatusOK, result.Summarize())
	}
}

// DiscardHandler は DELETE /api/jobs/:id のハンドラーを返します。
func DiscardHandler(svc ConvertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DiscardJob(c.Param("id")); err != nil {
			respondWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}
	return opts.AsyncThresholdBytes > 0 && manifest.Size > opts.AsyncThresholdBytes
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case CodeLimitExceeded:
			status = http.StatusRequestEntityTooLarge
		case CodeUnsupportedFile:
			status = http.StatusUnsupportedMediaType
		case CodeConversionUnavailable, CodeConversionFailed:
			// 4xx系: サーバー障害ではなく「この入力は処理できない」
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("変換するファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if file := form.File["file[]"]; len(file) > 0 {
		return file[0], nil
	}
	if files := form.File["files"]; len(files) > 0 {
		return files[0], nil
	}
	return nil, errors.New("変換するファイルを選択してください。")
}
