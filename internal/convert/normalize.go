package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const normalizedFilename = "normalized.pdf"

// normalize は入力文書を正規化PDFへ変換します。
// PDF入力はバイト同一のコピー、DOC/DOCX は LibreOffice による変換です。
// 失敗した場合、出力パスにファイルを残しません。
func (s *Service) normalize(ctx context.Context, ws workspace, stored storedFile) (*PdfArtifact, error) {
	destPath := filepath.Join(ws.outDir, normalizedFilename)

	converted := false
	switch stored.extension {
	case ".pdf":
		if err := copyFile(stored.path, destPath); err != nil {
			return nil, fmt.Errorf("PDFのコピーに失敗しました: %w", err)
		}
	case ".doc", ".docx":
		if !s.tools.Office {
			return nil, newError(CodeConversionUnavailable,
				"Office文書の変換機能が利用できません（LibreOffice が見つかりません）。", nil)
		}
		if err := s.runSoffice(ctx, ws, stored.path, destPath); err != nil {
			_ = os.Remove(destPath)
			return nil, err
		}
		converted = true
	default:
		return nil, newError(CodeUnsupportedFile,
			fmt.Sprintf("対応していない拡張子です: %s", stored.extension), nil)
	}

	info, err := os.Stat(destPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(destPath)
		return nil, newError(CodeConversionFailed, "変換結果のPDFが生成されませんでした。", err)
	}

	pages, err := s.pageCount(destPath)
	if err != nil || pages <= 0 {
		_ = os.Remove(destPath)
		if converted {
			return nil, newError(CodeConversionFailed, "変換結果をPDFとして解析できませんでした。", err)
		}
		return nil, newError(CodeUnsupportedFile, "アップロードされたファイルをPDFとして解析できませんでした。", err)
	}

	return &PdfArtifact{
		Path:        destPath,
		SizeBytes:   info.Size(),
		Pages:       pages,
		IsConverted: converted,
	}, nil
}

// runSoffice は LibreOffice をヘッドレスで起動して PDF へ変換します。
// LibreOffice は出力ファイル名を「入力名.pdf」にするため、完了後に destPath へ移動します。
func (s *Service) runSoffice(ctx context.Context, ws workspace, inputPath, destPath string) error {
	ctx, cancel := s.convertCtx(ctx)
	defer cancel()

	// 変換ごとに独立したプロファイルを使わせ、並行ジョブ間の
	// ロックファイル競合を避ける。プロファイルはワークスペースごと消える。
	env := []string{
		"HOME=" + ws.dir,
	}
	args := []string{
		"--headless",
		"--norestore",
		fmt.Sprintf("-env:UserInstallation=file://%s", filepath.Join(ws.dir, "lo-profile")),
		"--convert-to", "pdf",
		"--outdir", ws.outDir,
		inputPath,
	}

	output, err := s.runner.Run(ctx, env, s.cfg.SofficePath, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return newError(CodeConversionFailed, "Office文書の変換がタイムアウトしました。", ctx.Err())
		}
		return newError(CodeConversionFailed,
			fmt.Sprintf("Office文書の変換に失敗しました: %s", firstLine(output)), err)
	}

	base := filepath.Base(inputPath)
	producedName := strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf"
	producedPath := filepath.Join(ws.outDir, producedName)

	if producedPath != destPath {
		if err := os.Rename(producedPath, destPath); err != nil {
			return newError(CodeConversionFailed, "変換結果のPDFが見つかりませんでした。", err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

func firstLine(output []byte) string {
	text := strings.TrimSpace(string(output))
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
