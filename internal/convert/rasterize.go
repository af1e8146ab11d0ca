package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

const (
	backendPoppler = "pdftoppm"
	backendMagick  = "magick"

	// これ未満のファイルは壊れた/空のレンダリング結果とみなす
	minImageBytes = 100

	fallbackPrefix = "fallback"
)

// RenderConfig はラスタライズ1回分のパラメータ一式です。
// 値に根拠のある固定値はなく、config 経由でチューニング可能です。
type RenderConfig struct {
	Name    string
	Backend string
	Density int
	ScaleTo int    // poppler のみ。0 なら指定しない
	Format  string // png / jpg
	Quality int    // jpg のみ
}

// renderConfigs は試行順に並んだレンダリング構成を返します。
func (s *Service) renderConfigs() []RenderConfig {
	return []RenderConfig{
		{
			Name:    "poppler-high",
			Backend: backendPoppler,
			Density: s.cfg.RenderDPIHigh,
			ScaleTo: s.cfg.RenderScaleTo,
			Format:  "png",
		},
		{
			Name:    "magick-medium",
			Backend: backendMagick,
			Density: s.cfg.RenderDPIMedium,
			Format:  "jpg",
			Quality: s.cfg.RenderJPEGQuality,
		},
	}
}

// rasterize は構成リストを順に試し、最初に成功した構成の画像を返します。
// 全構成が失敗した場合は pdftoppm の直接呼び出しにフォールバックし、
// それでも有効な画像が得られなければ CodeRasterizationFailed を返します。
// 戻り値の2番目は成功した構成名です。
func (s *Service) rasterize(ctx context.Context, pdfPath, outDir string) ([]ImageArtifact, string, error) {
	var lastErr error

	for _, rc := range s.renderConfigs() {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		candidates, err := s.renderWithConfig(ctx, pdfPath, outDir, rc)
		if err != nil {
			// プロセス起動失敗・タイムアウト・出力ゼロはすべて「この構成の失敗」
			s.logger.Printf("render config %s failed for %s: %v", rc.Name, pdfPath, err)
			lastErr = err
			continue
		}
		return toImageArtifacts(candidates), rc.Name, nil
	}

	candidates, err := s.renderSystemFallback(ctx, pdfPath, outDir)
	if err != nil {
		s.logger.Printf("system fallback failed for %s: %v", pdfPath, err)
		return nil, "", newError(CodeRasterizationFailed,
			"すべてのレンダリング構成とフォールバックが失敗しました。", err)
	}
	if len(candidates) == 0 {
		return nil, "", newError(CodeRasterizationFailed,
			"すべてのレンダリング構成とフォールバックが失敗しました。", lastErr)
	}
	return toImageArtifacts(candidates), "system-fallback", nil
}

// renderWithConfig は1構成分のレンダリングを実行し、検証済みの出力一覧を返します。
// 構成ごとに出力プレフィックスを変え、前の構成が残した不完全なファイルを拾わないようにします。
func (s *Service) renderWithConfig(ctx context.Context, pdfPath, outDir string, rc RenderConfig) ([]imageCandidate, error) {
	rctx, cancel := s.convertCtx(ctx)
	defer cancel()

	var (
		bin  string
		args []string
	)
	switch rc.Backend {
	case backendPoppler:
		bin = s.cfg.PdftoppmPath
		args = []string{"-r", strconv.Itoa(rc.Density)}
		if rc.Format == "jpg" {
			args = append(args, "-jpeg", "-jpegopt", fmt.Sprintf("quality=%d", rc.Quality))
		} else {
			args = append(args, "-png")
		}
		if rc.ScaleTo > 0 {
			args = append(args, "-scale-to", strconv.Itoa(rc.ScaleTo))
		}
		args = append(args, pdfPath, filepath.Join(outDir, rc.Name))
	case backendMagick:
		bin = s.cfg.MagickPath
		args = []string{
			"-density", strconv.Itoa(rc.Density),
			pdfPath,
			"-quality", strconv.Itoa(rc.Quality),
			filepath.Join(outDir, rc.Name+"-%02d.jpg"),
		}
	default:
		return nil, fmt.Errorf("unknown render backend: %s", rc.Backend)
	}

	if output, err := s.runner.Run(rctx, nil, bin, args...); err != nil {
		return nil, fmt.Errorf("%s の実行に失敗しました: %s: %w", rc.Backend, firstLine(output), err)
	}

	candidates, err := collectImages(outDir, rc.Name)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s は有効な画像を生成しませんでした", rc.Backend)
	}
	return candidates, nil
}

// renderSystemFallback は pdftoppm を明示的なフラグで直接呼び出す最終手段です。
// 起動エラーは無視して出力ディレクトリの走査結果だけを信用します。
// プレフィックス一致で見つからなければ、ディレクトリ内の任意の画像ファイルまで対象を広げます。
func (s *Service) renderSystemFallback(ctx context.Context, pdfPath, outDir string) ([]imageCandidate, error) {
	rctx, cancel := s.convertCtx(ctx)
	defer cancel()

	args := []string{
		"-r", strconv.Itoa(s.cfg.FallbackDPI),
		"-jpeg", "-jpegopt", "quality=80",
		pdfPath,
		filepath.Join(outDir, fallbackPrefix),
	}
	if output, err := s.runner.Run(rctx, nil, s.cfg.PdftoppmPath, args...); err != nil {
		s.logger.Printf("fallback pdftoppm invocation failed (continuing with directory scan): %s: %v", firstLine(output), err)
	}

	candidates, err := collectImages(outDir, fallbackPrefix)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}
	return collectImages(outDir, "")
}

func toImageArtifacts(candidates []imageCandidate) []ImageArtifact {
	images := make([]ImageArtifact, len(candidates))
	for i, c := range candidates {
		images[i] = ImageArtifact{
			Path:       c.path,
			PageNumber: i + 1,
			SizeBytes:  c.size,
		}
	}
	return images
}
