package convert

// Stage は変換パイプラインの進行段階を表します。
// ジョブレコード（internal/jobs）にもこの値がそのまま保存されます。
type Stage string

const (
	StageQueued    Stage = "queued"
	StageLoad      Stage = "load"
	StageNormalize Stage = "normalize"
	StageRasterize Stage = "rasterize"
	StagePublish   Stage = "publish"
	StageCompleted Stage = "completed"
)

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage Stage, percent int)

func reportProgress(cb ProgressReporter, stage Stage, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}
