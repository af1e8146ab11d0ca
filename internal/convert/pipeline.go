package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultExpireMin = 10

// PrepareJob はワークスペースを作成してアップロードを保存し、マニフェストを書き出します。
// 同期・非同期どちらの実行経路もこのマニフェストからジョブを復元します。
func (s *Service) PrepareJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	stored, err := s.storeMultipartFile(ctx, file, ws.inDir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	manifest := &JobManifest{
		JobID:        ws.jobID,
		StoredName:   filepath.Base(stored.path),
		OriginalName: stored.originalName,
		Size:         stored.size,
		Extension:    stored.extension,
		CreatedAt:    s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return manifest, nil
}

// RunJob は正規化→ラスタライズ→通知の順でパイプラインを実行します。
// 正規化の失敗はジョブ全体の失敗、ラスタライズの失敗は画像なしの劣化成功です。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*ConversionResult, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	stored := manifest.storedFile(ws.dir)

	reportProgress(reporter, StageNormalize, 30)

	pdfArtifact, err := s.normalize(ctx, ws, stored)
	if err != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			err = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", err, cleanupErr)
		}
		return nil, err
	}

	reportProgress(reporter, StageRasterize, 50)

	images, configName, rasterErr := s.rasterize(ctx, pdfArtifact.Path, ws.outDir)
	degraded := false
	if rasterErr != nil {
		if ctx.Err() != nil {
			_ = removeDir(ws.dir)
			return nil, ctx.Err()
		}
		// PDFのみの結果も正当な終了状態
		s.logger.Printf("job %s: rasterization failed, returning PDF-only result: %v", jobID, rasterErr)
		images = nil
		configName = ""
		degraded = true
	} else if primary := s.renderConfigs(); len(primary) > 0 && configName != primary[0].Name {
		// 第1構成以外で成功した場合は観測可能にしておく（失敗扱いにはしない）
		s.logger.Printf("job %s: rasterized with non-primary strategy %s", jobID, configName)
	}

	result := &ConversionResult{
		JobID:        jobID,
		OriginalName: manifest.OriginalName,
		PDF:          *pdfArtifact,
		Images:       images,
		RasterConfig: configName,
		Degraded:     degraded,
		ProcessedAt:  s.now().UTC(),
		jobDir:       ws.dir,
	}

	if err := writeJSON(filepath.Join(ws.dir, "meta.json"), result.Summarize()); err != nil {
		s.logger.Printf("job %s: failed to persist meta.json: %v", jobID, err)
	}

	// 成果物は通知先がURL経由で取得するため、期限付きで残してから削除する
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultExpireMin
	}
	time.AfterFunc(time.Duration(expireMinutes)*time.Minute, func() {
		_ = result.Cleanup()
	})

	reportProgress(reporter, StagePublish, 90)

	if s.publisher != nil {
		if perr := s.publisher.Publish(ctx, result); perr != nil {
			// 通知失敗でジョブは失敗させない
			s.logger.Printf("job %s: result publish failed: %v", jobID, perr)
		}
	}

	reportProgress(reporter, StageCompleted, 100)

	return result, nil
}

// DiscardJob はジョブのワークスペースを破棄します。
func (s *Service) DiscardJob(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

// OpenResultPDF はジョブの正規化済みPDFを開きます。
func (s *Service) OpenResultPDF(jobID string) (*os.File, int64, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, 0, err
	}
	return openOutputFile(s.workspaceFor(jobID), normalizedFilename)
}

// OpenResultImage はジョブのページ画像をファイル名指定で開きます。
func (s *Service) OpenResultImage(jobID, filename string) (*os.File, int64, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, 0, err
	}
	if filename == "" || filename != filepath.Base(filename) || !isImageFile(filename) {
		return nil, 0, newError(CodeInvalidInput, "画像ファイル名が正しくありません。", nil)
	}
	return openOutputFile(s.workspaceFor(jobID), filename)
}

func openOutputFile(ws workspace, filename string) (*os.File, int64, error) {
	file, err := os.Open(filepath.Join(ws.outDir, filename))
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

func validateJobID(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return newError(CodeInvalidInput, "jobId を指定してください。", nil)
	}
	// ワークスペースパスに埋め込むため、UUID以外は受け付けない
	if err := uuid.Validate(jobID); err != nil {
		return newError(CodeInvalidInput, "jobId の形式が正しくありません。", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
