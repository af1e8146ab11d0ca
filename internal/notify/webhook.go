// Package notify は変換結果をWebhook（LINE Bot サーバーや n8n フロー）へ通知します。
// ペイロードの整形と配送だけを担当し、変換処理には関与しません。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/doc-relay/internal/config"
	"github.com/yourusername/doc-relay/internal/convert"
)

// Publisher は convert.ResultPublisher の Webhook 実装です。
type Publisher struct {
	webhookURL string
	baseURL    string
	client     *http.Client
	logger     *log.Logger
}

// NewPublisher は Publisher を作成します。WebhookURL が未設定なら nil を返し、
// 呼び出し側は通知なしで動作します。
func NewPublisher(cfg *config.Config, logger *log.Logger) *Publisher {
	if cfg.WebhookURL == "" {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{
		webhookURL: cfg.WebhookURL,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// payload はWebhookに送るJSONの形です。受信側（LINE Bot / n8n）は
// このURL一覧からダウンロードリンクやメッセージを組み立てます。
type payload struct {
	JobID        string         `json:"jobId"`
	OriginalName string         `json:"originalName"`
	PDF          pdfPayload     `json:"pdf"`
	Images       []imagePayload `json:"images"`
	Degraded     bool           `json:"degraded"`
	ProcessedAt  time.Time      `json:"processedAt"`
}

type pdfPayload struct {
	URL         string `json:"url"`
	SizeBytes   int64  `json:"sizeBytes"`
	Pages       int    `json:"pages"`
	IsConverted bool   `json:"isConverted"`
}

type imagePayload struct {
	URL       string `json:"url"`
	Page      int    `json:"page"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Publish は ConversionResult からペイロードを組み立ててWebhookへPOSTします。
func (p *Publisher) Publish(ctx context.Context, result *convert.ConversionResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	body, err := json.Marshal(p.buildPayload(result))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	p.logger.Printf("job %s: webhook notified (%d images)", result.JobID, len(result.Images))
	return nil
}

func (p *Publisher) buildPayload(result *convert.ConversionResult) payload {
	summary := result.Summarize()

	images := make([]imagePayload, len(summary.Images))
	for i, img := range summary.Images {
		images[i] = imagePayload{
			URL:       p.imageURL(summary.JobID, img.Filename),
			Page:      img.Page,
			SizeBytes: img.SizeBytes,
		}
	}

	return payload{
		JobID:        summary.JobID,
		OriginalName: summary.OriginalName,
		PDF: pdfPayload{
			URL:         fmt.Sprintf("%s/api/jobs/%s/download", p.baseURL, summary.JobID),
			SizeBytes:   summary.PDF.SizeBytes,
			Pages:       summary.PDF.Pages,
			IsConverted: summary.PDF.IsConverted,
		},
		Images:      images,
		Degraded:    summary.Degraded,
		ProcessedAt: summary.ProcessedAt,
	}
}

func (p *Publisher) imageURL(jobID, filename string) string {
	return fmt.Sprintf("%s/api/jobs/%s/images/%s", p.baseURL, jobID, url.PathEscape(filename))
}
