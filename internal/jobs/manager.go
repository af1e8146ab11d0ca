// Package jobs は非同期変換ジョブの投入・実行・状態管理を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/yourusername/doc-relay/internal/config"
	"github.com/yourusername/doc-relay/internal/convert"
)

const (
	taskTypeConvert = "convert:process"
)

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg            *config.Config
	client         *asynq.Client
	server         *asynq.Server
	mux            *asynq.ServeMux
	store          *Store
	convertService *convert.Service
	logger         *log.Logger
}

// TaskPayload は変換ジョブのペイロードです。ジョブの入力自体は
// ワークスペースのマニフェストに永続化済みなので、IDだけ運びます。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, convertService *convert.Service, store *Store, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if convertService == nil {
		return nil, errors.New("convertService is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			// LibreOffice/レンダラーはCPU・メモリを食うので並列度は控えめに
			Concurrency: 2,
			Queues: map[string]int{
				"convert": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:            cfg,
		client:         client,
		server:         server,
		mux:            mux,
		store:          store,
		convertService: convertService,
		logger:         logger,
	}
	mux.HandleFunc(taskTypeConvert, manager.handleConvertTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	if err := m.store.CreateQueued(ctx, payload.JobID); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	// 変換は冪等でない（ワークスペースを消費する）ためリトライしない
	task := asynq.NewTask(taskTypeConvert, body, asynq.Queue("convert"))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleConvertTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	if err := m.store.MarkRunning(ctx, payload.JobID); err != nil {
		return err
	}

	result, err := m.convertService.RunJob(ctx, payload.JobID, func(stage convert.Stage, percent int) {
		_ = m.store.UpdateProgress(ctx, payload.JobID, stage, percent)
	})
	if err != nil {
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *convert.ConversionResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	return m.store.MarkDone(ctx, jobID, m.buildDownloadURL(jobID), result.Summarize())
}

func (m *Manager) failJob(ctx context.Context, jobID, code, message string) error {
	return m.store.MarkFailed(ctx, jobID, &ErrorInfo{
		Code:    code,
		Message: message,
	})
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	var apiErr *convert.Error
	if errors.As(err, &apiErr) {
		return m.failJob(ctx, jobID, apiErr.Code, apiErr.Message)
	}
	return m.failJob(ctx, jobID, "INTERNAL_ERROR", err.Error())
}

func (m *Manager) buildDownloadURL(jobID string) string {
	base := strings.TrimRight(m.cfg.PublicBaseURL, "/")
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", jobID)
	}
	return fmt.Sprintf("%s/api/jobs/%s/download", base, jobID)
}
