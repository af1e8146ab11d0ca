package convert

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingPublisher struct {
	published []*ConversionResult
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, result *ConversionResult) error {
	p.published = append(p.published, result)
	return p.err
}

// seedJob はアップロード済み相当のワークスペースとマニフェストを用意します。
func seedJob(t *testing.T, s *Service, name, originalName string, content []byte) string {
	t.Helper()
	ws, err := s.createWorkspace()
	if err != nil {
		t.Fatalf("createWorkspace failed: %v", err)
	}
	stored := seedInput(t, ws, name, originalName, content)
	manifest := &JobManifest{
		JobID:        ws.jobID,
		StoredName:   name,
		OriginalName: originalName,
		Size:         stored.size,
		Extension:    stored.extension,
		CreatedAt:    time.Now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		t.Fatalf("writeManifest failed: %v", err)
	}
	return ws.jobID
}

func makeFileHeader(t *testing.T, filename string, content []byte) (*multipart.FileHeader, func()) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write multipart content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	reader := multipart.NewReader(&buf, writer.Boundary())
	form, err := reader.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm failed: %v", err)
	}
	files := form.File["file"]
	if len(files) != 1 {
		t.Fatalf("expected 1 file header, got %d", len(files))
	}
	return files[0], func() { _ = form.RemoveAll() }
}

func TestRunJobSuccess(t *testing.T) {
	runner := allToolsRunner(func(name string, args []string) ([]byte, error) {
		if name == "pdftoppm" && hasArgWithPrefix(args, "poppler-high") {
			writeOutputs(t, outDirFromArgs(args), []string{
				"poppler-high-01.png",
				"poppler-high-02.png",
			}, 500)
			return nil, nil
		}
		return nil, errors.New("unexpected invocation: " + name)
	})
	s := newTestService(t, runner)
	publisher := &recordingPublisher{}
	s.publisher = publisher

	jobID := seedJob(t, s, "source.pdf", "report.pdf", []byte("%PDF-1.4\nbody\n%%EOF\n"))

	var stages []Stage
	var lastPercent int
	result, err := s.RunJob(context.Background(), jobID, func(stage Stage, percent int) {
		stages = append(stages, stage)
		lastPercent = percent
	})
	if err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	if result.Degraded {
		t.Error("successful rasterization must not be degraded")
	}
	if result.RasterConfig != "poppler-high" {
		t.Errorf("expected poppler-high, got %s", result.RasterConfig)
	}
	if len(result.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(result.Images))
	}
	if result.OriginalName != "report.pdf" {
		t.Errorf("expected original name report.pdf, got %s", result.OriginalName)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(publisher.published))
	}
	if publisher.published[0].JobID != jobID {
		t.Errorf("published jobId mismatch: %s", publisher.published[0].JobID)
	}

	// 成果物は通知先がURLで取得するため、成功直後は残っている
	ws := s.workspaceFor(jobID)
	if _, err := os.Stat(filepath.Join(ws.dir, "meta.json")); err != nil {
		t.Errorf("meta.json should be persisted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.outDir, normalizedFilename)); err != nil {
		t.Errorf("normalized.pdf should be kept after success: %v", err)
	}

	if lastPercent != 100 {
		t.Errorf("expected final progress 100, got %d", lastPercent)
	}
	if len(stages) == 0 || stages[len(stages)-1] != StageCompleted {
		t.Errorf("expected final stage %s, got %v", StageCompleted, stages)
	}
}

func TestConversionResultCleanupIsIdempotent(t *testing.T) {
	runner := allToolsRunner(func(name string, args []string) ([]byte, error) {
		writeOutputs(t, outDirFromArgs(args), []string{"poppler-high-01.png"}, 500)
		return nil, nil
	})
	s := newTestService(t, runner)

	jobID := seedJob(t, s, "source.pdf", "report.pdf", []byte("%PDF-1.4\nbody\n%%EOF\n"))

	result, err := s.RunJob(context.Background(), jobID, nil)
	if err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}

	if err := result.Cleanup(); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if _, statErr := os.Stat(s.workspaceFor(jobID).dir); !os.IsNotExist(statErr) {
		t.Error("workspace should be gone after cleanup")
	}
	if err := result.Cleanup(); err != nil {
		t.Errorf("second Cleanup must be a no-op, got %v", err)
	}
}

func TestRunJobDegradedWhenRasterizationFails(t *testing.T) {
	runner := allToolsRunner(func(name string, args []string) ([]byte, error) {
		if name == "soffice" {
			writeOutputs(t, sofficeOutDir(args), []string{"source.pdf"}, 400)
			return nil, nil
		}
		return nil, errors.New("renderer unavailable")
	})
	s := newTestService(t, runner)
	publisher := &recordingPublisher{}
	s.publisher = publisher

	jobID := seedJob(t, s, "source.docx", "letter.docx", []byte("docx bytes"))

	result, err := s.RunJob(context.Background(), jobID, nil)
	if err != nil {
		t.Fatalf("rasterization failure must degrade, not fail: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded result")
	}
	if len(result.Images) != 0 {
		t.Errorf("degraded result must carry no images, got %d", len(result.Images))
	}
	if result.RasterConfig != "" {
		t.Errorf("degraded result must not name a raster config, got %s", result.RasterConfig)
	}
	if !result.PDF.IsConverted {
		t.Error("docx input should yield a converted PDF artifact")
	}
	// 劣化成功でも通知は行う
	if len(publisher.published) != 1 {
		t.Errorf("expected 1 publish, got %d", len(publisher.published))
	}
}

func TestRunJobNormalizeFailureRemovesWorkspace(t *testing.T) {
	runner := &fakeRunner{availableBins: map[string]bool{
		"pdftoppm": true,
		"convert":  true,
	}}
	s := newTestService(t, runner)
	publisher := &recordingPublisher{}
	s.publisher = publisher

	jobID := seedJob(t, s, "source.docx", "letter.docx", []byte("docx bytes"))

	_, err := s.RunJob(context.Background(), jobID, nil)
	if !IsCode(err, CodeConversionUnavailable) {
		t.Fatalf("expected %s, got %v", CodeConversionUnavailable, err)
	}
	if _, statErr := os.Stat(s.workspaceFor(jobID).dir); !os.IsNotExist(statErr) {
		t.Error("failed job must remove its workspace")
	}
	if len(publisher.published) != 0 {
		t.Error("failed job must not publish a result")
	}
}

func TestRunJobPublishFailureIsNotFatal(t *testing.T) {
	runner := allToolsRunner(func(name string, args []string) ([]byte, error) {
		writeOutputs(t, outDirFromArgs(args), []string{"poppler-high-01.png"}, 500)
		return nil, nil
	})
	s := newTestService(t, runner)
	s.publisher = &recordingPublisher{err: errors.New("webhook down")}

	jobID := seedJob(t, s, "source.pdf", "report.pdf", []byte("%PDF-1.4\nbody\n%%EOF\n"))

	if _, err := s.RunJob(context.Background(), jobID, nil); err != nil {
		t.Fatalf("publish failure must not fail the job: %v", err)
	}
}

func TestRunJobRejectsMalformedJobID(t *testing.T) {
	s := newTestService(t, allToolsRunner(nil))

	for _, jobID := range []string{"", "   ", "../../etc/passwd", "not-a-uuid"} {
		if _, err := s.RunJob(context.Background(), jobID, nil); !IsCode(err, CodeInvalidInput) {
			t.Errorf("jobID %q: expected %s, got %v", jobID, CodeInvalidInput, err)
		}
	}
}

func TestPrepareJobStoresPDFUpload(t *testing.T) {
	s := newTestService(t, allToolsRunner(nil))

	header, cleanup := makeFileHeader(t, "資料.pdf", []byte("%PDF-1.4\nreal enough\n%%EOF\n"))
	defer cleanup()

	manifest, err := s.PrepareJob(context.Background(), header)
	if err != nil {
		t.Fatalf("PrepareJob returned error: %v", err)
	}
	if manifest.Extension != ".pdf" {
		t.Errorf("expected .pdf, got %s", manifest.Extension)
	}
	if manifest.StoredName != "source.pdf" {
		t.Errorf("expected stored name source.pdf, got %s", manifest.StoredName)
	}
	if manifest.OriginalName != "資料.pdf" {
		t.Errorf("original name must be preserved, got %s", manifest.OriginalName)
	}

	loaded, err := loadManifest(s.workspaceFor(manifest.JobID).dir)
	if err != nil {
		t.Fatalf("loadManifest failed: %v", err)
	}
	if loaded.JobID != manifest.JobID || loaded.Size != manifest.Size {
		t.Error("persisted manifest does not match the returned one")
	}
}

func TestPrepareJobRejectsUnsupportedContent(t *testing.T) {
	s := newTestService(t, allToolsRunner(nil))

	// 拡張子は .pdf でも中身がテキストなら拒否する
	header, cleanup := makeFileHeader(t, "fake.pdf", []byte("just plain text, nothing else here"))
	defer cleanup()

	_, err := s.PrepareJob(context.Background(), header)
	if !IsCode(err, CodeUnsupportedFile) {
		t.Fatalf("expected %s, got %v", CodeUnsupportedFile, err)
	}
	assertWorkDirEmpty(t, s)
}

func TestPrepareJobRejectsOversizedUpload(t *testing.T) {
	s := newTestService(t, allToolsRunner(nil))
	s.cfg.MaxFileSize = 16

	header, cleanup := makeFileHeader(t, "big.pdf", bytes.Repeat([]byte("a"), 64))
	defer cleanup()

	_, err := s.PrepareJob(context.Background(), header)
	if !IsCode(err, CodeLimitExceeded) {
		t.Fatalf("expected %s, got %v", CodeLimitExceeded, err)
	}
	assertWorkDirEmpty(t, s)
}

func TestDiscardJobRemovesWorkspace(t *testing.T) {
	s := newTestService(t, allToolsRunner(nil))
	jobID := seedJob(t, s, "source.pdf", "report.pdf", []byte("%PDF-1.4\n%%EOF\n"))

	if err := s.DiscardJob(jobID); err != nil {
		t.Fatalf("DiscardJob returned error: %v", err)
	}
	if _, err := os.Stat(s.workspaceFor(jobID).dir); !os.IsNotExist(err) {
		t.Error("workspace should be gone after discard")
	}

	if err := s.DiscardJob("../outside"); !IsCode(err, CodeInvalidInput) {
		t.Errorf("expected %s for malformed id, got %v", CodeInvalidInput, err)
	}
}

func assertWorkDirEmpty(t *testing.T, s *Service) {
	t.Helper()
	entries, err := os.ReadDir(s.cfg.WorkDir)
	if err != nil {
		t.Fatalf("failed to read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload must not leave a workspace, found %d entries", len(entries))
	}
}
