// Package convert はアップロードされた文書をPDFへ正規化し、
// ページ画像へラスタライズする変換パイプラインを提供します。
package convert

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/doc-relay/internal/config"
)

// ResultPublisher は完成した ConversionResult を受け取る通知側の契約です。
// ペイロードの整形と配送は実装側（internal/notify）の責務です。
type ResultPublisher interface {
	Publish(ctx context.Context, result *ConversionResult) error
}

// Toolset は起動時に1度だけ調べた外部バイナリの利用可否を保持します。
// モジュール変数での遅延チェックはせず、Service 構築時に確定させます。
type Toolset struct {
	Office  bool // LibreOffice (soffice)
	Poppler bool // pdftoppm
	Magick  bool // ImageMagick/GraphicsMagick convert
}

// Service は変換パイプライン全体を担います。
type Service struct {
	cfg       *config.Config
	runner    commandRunner
	tools     Toolset
	publisher ResultPublisher
	logger    *log.Logger

	// テスト差し替え用
	now       func() time.Time
	pageCount func(path string) (int, error)
}

// NewService は Service を構築し、外部バイナリの利用可否を調べます。
func NewService(cfg *config.Config, publisher ResultPublisher, logger *log.Logger) *Service {
	return newServiceWithRunner(cfg, publisher, logger, osRunner{})
}

func newServiceWithRunner(cfg *config.Config, publisher ResultPublisher, logger *log.Logger, runner commandRunner) *Service {
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		cfg:       cfg,
		runner:    runner,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		pageCount: pdfapi.PageCountFile,
	}
	s.tools = s.probeTools()
	return s
}

func (s *Service) probeTools() Toolset {
	var t Toolset
	if _, err := s.runner.LookPath(s.cfg.SofficePath); err == nil {
		t.Office = true
	}
	if _, err := s.runner.LookPath(s.cfg.PdftoppmPath); err == nil {
		t.Poppler = true
	}
	if _, err := s.runner.LookPath(s.cfg.MagickPath); err == nil {
		t.Magick = true
	}
	s.logger.Printf("external tools probed: soffice=%t pdftoppm=%t magick=%t", t.Office, t.Poppler, t.Magick)
	return t
}

// Tools は起動時に確定した外部バイナリの利用可否を返します。
func (s *Service) Tools() Toolset {
	return s.tools
}

func (s *Service) createWorkspace() (workspace, error) {
	jobID := uuid.NewString()
	ws := s.workspaceFor(jobID)
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.WorkDir, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

type storedFile struct {
	path         string
	originalName string
	size         int64
	extension    string
}

// storeMultipartFile はアップロードされたファイルを検証しながら inDir に保存します。
func (s *Service) storeMultipartFile(ctx context.Context, file *multipart.FileHeader, inDir string) (storedFile, error) {
	if file == nil {
		return storedFile{}, newError(CodeInvalidInput, "変換するファイルを選択してください。", nil)
	}
	if file.Size > s.cfg.MaxFileSize {
		return storedFile{}, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.cfg.MaxFileSize), nil)
	}
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}

	src, err := file.Open()
	if err != nil {
		return storedFile{}, newError(CodeInvalidInput, "アップロードファイルの読み込みに失敗しました。", err)
	}
	defer src.Close()

	destPath := filepath.Join(inDir, "source"+strings.ToLower(filepath.Ext(file.Filename)))
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}

	// コピー中にもサイズ上限を守る（Content-Length 詐称対策）
	written, err := io.Copy(dest, io.LimitReader(src, s.cfg.MaxFileSize+1))
	closeErr := dest.Close()
	if err != nil {
		_ = os.Remove(destPath)
		return storedFile{}, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(destPath)
		return storedFile{}, fmt.Errorf("入力ファイルの保存に失敗しました: %w", closeErr)
	}
	if written > s.cfg.MaxFileSize {
		_ = os.Remove(destPath)
		return storedFile{}, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.cfg.MaxFileSize), nil)
	}

	ext, err := detectExtension(destPath, file.Filename)
	if err != nil {
		_ = os.Remove(destPath)
		return storedFile{}, err
	}

	return storedFile{
		path:         destPath,
		originalName: file.Filename,
		size:         written,
		extension:    ext,
	}, nil
}

// detectExtension は内容のスニッフィング結果を優先して拡張子を決めます。
// 旧形式の .doc はOLEコンテナとして検出されるため、ファイル名の拡張子で補完します。
func detectExtension(path, originalName string) (string, error) {
	nameExt := strings.ToLower(filepath.Ext(originalName))

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", newError(CodeInvalidInput, "ファイル形式の判定に失敗しました。", err)
	}

	switch {
	case mtype.Is("application/pdf"):
		return ".pdf", nil
	case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return ".docx", nil
	case mtype.Is("application/msword"), mtype.Is("application/x-ole-storage"):
		if nameExt == ".doc" || nameExt == "" {
			return ".doc", nil
		}
	}

	return "", newError(CodeUnsupportedFile,
		fmt.Sprintf("対応していないファイル形式です（%s）。PDF/DOC/DOCX のみ受け付けます。", mtype.String()), nil)
}

// convertCtx は外部プロセス呼び出し1回分のタイムアウト付きコンテキストを返します。
func (s *Service) convertCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(s.cfg.ConvertTimeout)*time.Second)
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
