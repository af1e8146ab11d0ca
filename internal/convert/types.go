package convert

import (
	"sync"
	"time"
)

// PdfArtifact は正規化ステージが生成したPDFを表します。
// Rasterizer 開始前に Path のファイルが有効なPDFであることが保証されます。
type PdfArtifact struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"sizeBytes"`
	Pages       int    `json:"pages"`
	IsConverted bool   `json:"isConverted"`
}

// ImageArtifact はラスタライズされた1ページ分の画像です。
// PageNumber は1始まりで、ジョブ内で連続かつ一意です。
type ImageArtifact struct {
	Path       string `json:"path"`
	PageNumber int    `json:"pageNumber"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// ConversionResult は変換パイプラインの最終成果を表します。
// Images が空でも PDF が有効であれば成功（劣化成功）として扱います。
type ConversionResult struct {
	JobID        string          `json:"jobId"`
	OriginalName string          `json:"originalName"`
	PDF          PdfArtifact     `json:"pdf"`
	Images       []ImageArtifact `json:"images"`
	RasterConfig string          `json:"rasterConfig,omitempty"`
	Degraded     bool            `json:"degraded"`
	ProcessedAt  time.Time       `json:"processedAt"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。成功ジョブの期限切れタイマーと
// 手動破棄の両方から呼ばれるため、削除は1度だけ実行されます。
func (r *ConversionResult) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// Summary はジョブレコードとHTTPレスポンスに載せるメタデータです。
type Summary struct {
	JobID        string      `json:"jobId"`
	OriginalName string      `json:"originalName"`
	PDF          PDFMeta     `json:"pdf"`
	Images       []ImageMeta `json:"images"`
	Degraded     bool        `json:"degraded"`
	RasterConfig string      `json:"rasterConfig,omitempty"`
	ProcessedAt  time.Time   `json:"processedAt"`
}

// PDFMeta は通知・レスポンス用のPDFメタデータです。
type PDFMeta struct {
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"sizeBytes"`
	Pages       int    `json:"pages"`
	IsConverted bool   `json:"isConverted"`
}

// ImageMeta は通知・レスポンス用の画像メタデータです。
type ImageMeta struct {
	Filename  string `json:"filename"`
	Page      int    `json:"page"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Summarize は ConversionResult から Summary を組み立てます。
func (r *ConversionResult) Summarize() *Summary {
	images := make([]ImageMeta, len(r.Images))
	for i, img := range r.Images {
		images[i] = ImageMeta{
			Filename:  baseName(img.Path),
			Page:      img.PageNumber,
			SizeBytes: img.SizeBytes,
		}
	}
	return &Summary{
		JobID:        r.JobID,
		OriginalName: r.OriginalName,
		PDF: PDFMeta{
			Filename:    baseName(r.PDF.Path),
			SizeBytes:   r.PDF.SizeBytes,
			Pages:       r.PDF.Pages,
			IsConverted: r.PDF.IsConverted,
		},
		Images:       images,
		Degraded:     r.Degraded,
		RasterConfig: r.RasterConfig,
		ProcessedAt:  r.ProcessedAt,
	}
}
