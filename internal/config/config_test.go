package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxFileSize != 26214400 {
		t.Errorf("expected default max file size 25MB, got %d", cfg.MaxFileSize)
	}
	if cfg.ConvertTimeout != 120 {
		t.Errorf("expected default timeout 120s, got %d", cfg.ConvertTimeout)
	}
	if cfg.SofficePath != "soffice" || cfg.PdftoppmPath != "pdftoppm" {
		t.Errorf("unexpected default binary paths: %s / %s", cfg.SofficePath, cfg.PdftoppmPath)
	}
	if cfg.RenderDPIHigh != 150 || cfg.RenderDPIMedium != 100 || cfg.FallbackDPI != 120 {
		t.Errorf("unexpected default render settings: %d / %d / %d",
			cfg.RenderDPIHigh, cfg.RenderDPIMedium, cfg.FallbackDPI)
	}
	if cfg.WebhookURL != "" {
		t.Errorf("webhook should be disabled by default, got %s", cfg.WebhookURL)
	}
	if !strings.HasSuffix(cfg.WorkDir, "doc-relay") {
		t.Errorf("unexpected default work dir: %s", cfg.WorkDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_FILE_SIZE", "1024")
	t.Setenv("RENDER_DPI_HIGH", "200")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/convert")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.MaxFileSize != 1024 {
		t.Errorf("expected max file size 1024, got %d", cfg.MaxFileSize)
	}
	if cfg.RenderDPIHigh != 200 {
		t.Errorf("expected dpi 200, got %d", cfg.RenderDPIHigh)
	}
	if cfg.WebhookURL != "https://hooks.example.com/convert" {
		t.Errorf("unexpected webhook url: %s", cfg.WebhookURL)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE", "not-a-number")
	t.Setenv("CONVERT_TIMEOUT_SECONDS", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxFileSize != 26214400 {
		t.Errorf("malformed value should fall back to default, got %d", cfg.MaxFileSize)
	}
	if cfg.ConvertTimeout != 120 {
		t.Errorf("malformed value should fall back to default, got %d", cfg.ConvertTimeout)
	}
}

func TestValidateReleaseModeRequiresCredentials(t *testing.T) {
	t.Setenv("GIN_MODE", "release")

	if _, err := Load(); err == nil {
		t.Fatal("expected error in release mode without credentials")
	}

	t.Setenv("APP_USERNAME", "admin")
	t.Setenv("APP_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("SESSION_SECRET", "secret")

	if _, err := Load(); err != nil {
		t.Fatalf("expected valid release config, got %v", err)
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := &Config{MaxFileSize: 0, ConvertTimeout: 10}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero MAX_FILE_SIZE")
	}

	cfg = &Config{MaxFileSize: 1024, ConvertTimeout: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero CONVERT_TIMEOUT_SECONDS")
	}
}
