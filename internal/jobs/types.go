package jobs

import (
	"time"

	"github.com/yourusername/doc-relay/internal/convert"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ProgressInfo は進捗の補足情報を表します。
// Stage には変換パイプラインの段階（convert.Stage）がそのまま入ります。
type ProgressInfo struct {
	Percent int           `json:"percent"`
	Stage   convert.Stage `json:"stage,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。完了時には変換サマリー
// （PDF・ページ画像のメタデータ）が Meta に入ります。
type Record struct {
	JobID       string           `json:"jobId"`
	Status      Status           `json:"status"`
	Progress    ProgressInfo     `json:"progress"`
	DownloadURL string           `json:"downloadUrl,omitempty"`
	Meta        *convert.Summary `json:"meta,omitempty"`
	Error       *ErrorInfo       `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}
