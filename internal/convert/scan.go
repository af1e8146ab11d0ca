package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type imageCandidate struct {
	path string
	size int64
}

// collectImages は outDir を走査し、prefix で始まる有効な画像ファイルを
// ファイル名の辞書順で返します。レンダラーはゼロ埋めの連番をファイル名に
// 含めるため、辞書順がそのままページ順になります。
// prefix が空文字の場合はディレクトリ内のすべての画像ファイルが対象です。
// 存在しない・minImageBytes 以下のファイルは壊れたレンダリング結果として除外します。
func collectImages(outDir, prefix string) ([]imageCandidate, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("出力ディレクトリの走査に失敗しました: %w", err)
	}

	candidates := make([]imageCandidate, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isImageFile(name) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() <= minImageBytes {
			continue
		}

		candidates = append(candidates, imageCandidate{
			path: filepath.Join(outDir, name),
			size: info.Size(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].path < candidates[j].path
	})
	return candidates, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".ppm", ".tiff":
		return true
	default:
		return false
	}
}
