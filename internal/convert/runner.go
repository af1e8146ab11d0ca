package convert

import (
	"context"
	"os"
	"os/exec"
)

// commandRunner は外部プロセスの起動を抽象化します。テストで差し替えます。
// Run は argv 配列で直接起動し、シェルを経由しません。
type commandRunner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error)
}

// osRunner は os/exec による本番用実装です。
type osRunner struct{}

func (osRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osRunner) Run(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	return cmd.CombinedOutput()
}
