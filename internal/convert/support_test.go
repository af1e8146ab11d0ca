package convert

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/doc-relay/internal/config"
)

// fakeRunner は外部バイナリの起動を記録し、設定された振る舞いを返します。
type fakeRunner struct {
	availableBins map[string]bool
	onRun         func(name string, args []string) ([]byte, error)
	calls         [][]string
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (f *fakeRunner) Run(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.onRun != nil {
		return f.onRun(name, args)
	}
	return nil, errors.New("command failed: " + name)
}

func (f *fakeRunner) callCount(bin string) int {
	count := 0
	for _, call := range f.calls {
		if call[0] == bin {
			count++
		}
	}
	return count
}

func newTestService(t *testing.T, runner commandRunner) *Service {
	t.Helper()
	cfg := &config.Config{
		WorkDir:           t.TempDir(),
		MaxFileSize:       1 << 20,
		JobExpireMinutes:  10,
		SofficePath:       "soffice",
		PdftoppmPath:      "pdftoppm",
		MagickPath:        "convert",
		ConvertTimeout:    5,
		RenderDPIHigh:     150,
		RenderScaleTo:     1024,
		RenderDPIMedium:   100,
		RenderJPEGQuality: 85,
		FallbackDPI:       120,
	}
	s := newServiceWithRunner(cfg, nil, log.New(io.Discard, "", 0), runner)
	s.pageCount = func(string) (int, error) { return 2, nil }
	return s
}

// writeOutputs はレンダラーの出力を模倣してファイルを書き出します。
func writeOutputs(t *testing.T, dir string, names []string, size int) {
	t.Helper()
	data := make([]byte, size)
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
			t.Fatalf("failed to write output %s: %v", name, err)
		}
	}
}

// outDirFromArgs はレンダラー引数の出力指定から出力ディレクトリを取り出します。
func outDirFromArgs(args []string) string {
	return filepath.Dir(args[len(args)-1])
}

func hasArgWithPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(filepath.Base(a), prefix) {
			return true
		}
	}
	return false
}
