// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // 管理画面ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port          string // APIサーバーのポート番号
	GinMode       string // Ginの実行モード (debug, release, test)
	PublicBaseURL string // 通知ペイロードに載せるダウンロードURLのベース

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限・ワークスペース
	MaxFileSize      int64  // 単一ファイルの最大サイズ（バイト）
	WorkDir          string // ジョブごとの作業ディレクトリのルート
	JobExpireMinutes int    // 成功したジョブ成果物の保持期間（分）

	// ジョブ/キュー設定
	QueueRedisURL       string // Asynq用Redis接続URL
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値

	// 外部バイナリ設定
	SofficePath    string // LibreOffice実行ファイルのパス
	PdftoppmPath   string // pdftoppm (poppler-utils) のパス
	MagickPath     string // ImageMagick/GraphicsMagick convert 互換バイナリのパス
	ConvertTimeout int    // 外部プロセス1回あたりのタイムアウト（秒）

	// レンダリング設定（値はチューニング可能。根拠のある固定値ではない）
	RenderDPIHigh     int // 第1構成（poppler）の解像度
	RenderScaleTo     int // 第1構成の長辺ピクセル数
	RenderDPIMedium   int // 第2構成（magick）の解像度
	RenderJPEGQuality int // 第2構成のJPEG品質
	FallbackDPI       int // 最終フォールバック（pdftoppm直接呼び出し）の解像度

	// 通知設定
	WebhookURL string // 変換結果を通知するWebhook（LINE Bot / n8n）。空なら通知しない
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:          getEnv("PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ファイル制限・ワークスペース
		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 26214400), // 25MB
		WorkDir:          getEnv("WORK_DIR", filepath.Join(os.TempDir(), "doc-relay")),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),

		// ジョブ/キュー設定
		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 10*1024*1024), // 10MB

		// 外部バイナリ設定
		SofficePath:    getEnv("SOFFICE_PATH", "soffice"),
		PdftoppmPath:   getEnv("PDFTOPPM_PATH", "pdftoppm"),
		MagickPath:     getEnv("MAGICK_PATH", "convert"),
		ConvertTimeout: getEnvAsInt("CONVERT_TIMEOUT_SECONDS", 120),

		// レンダリング設定
		RenderDPIHigh:     getEnvAsInt("RENDER_DPI_HIGH", 150),
		RenderScaleTo:     getEnvAsInt("RENDER_SCALE_TO", 1024),
		RenderDPIMedium:   getEnvAsInt("RENDER_DPI_MEDIUM", 100),
		RenderJPEGQuality: getEnvAsInt("RENDER_JPEG_QUALITY", 85),
		FallbackDPI:       getEnvAsInt("FALLBACK_DPI", 120),

		// 通知設定
		WebhookURL: getEnv("WEBHOOK_URL", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証・通知設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.PublicBaseURL == "" {
			return fmt.Errorf("PUBLIC_BASE_URL is required in release mode")
		}
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.ConvertTimeout <= 0 {
		return fmt.Errorf("CONVERT_TIMEOUT_SECONDS must be positive")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
