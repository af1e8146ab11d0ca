package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-relay/internal/config"
	"github.com/yourusername/doc-relay/internal/convert"
)

func TestHandleHealthReportsTools(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		WorkDir:        t.TempDir(),
		MaxFileSize:    1 << 20,
		ConvertTimeout: 5,
		SofficePath:    "soffice",
		PdftoppmPath:   "pdftoppm",
		MagickPath:     "convert",
	}
	convertService := convert.NewService(cfg, nil, log.New(io.Discard, "", 0))

	router := gin.New()
	router.GET("/health", handleHealth(convertService))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status string          `json:"status"`
		Tools  map[string]bool `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %s", body.Status)
	}
	// 利用可否は環境依存なので、キーが揃っていることだけを確認する
	for _, tool := range []string{"office", "poppler", "magick"} {
		if _, ok := body.Tools[tool]; !ok {
			t.Errorf("health response missing tool entry %q", tool)
		}
	}
}
