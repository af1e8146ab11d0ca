package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest はジョブの入力情報を永続化したものです。
// 非同期ワーカーはこのファイルからジョブを復元します。
type JobManifest struct {
	JobID        string    `json:"jobId"`
	StoredName   string    `json:"storedName"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	Extension    string    `json:"extension"`
	CreatedAt    time.Time `json:"createdAt"`
}

func writeManifest(jobDir string, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	path := filepath.Join(jobDir, manifestFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func loadManifest(jobDir string) (*JobManifest, error) {
	path := filepath.Join(jobDir, manifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

func (m *JobManifest) storedFile(jobDir string) storedFile {
	return storedFile{
		path:         filepath.Join(jobDir, "in", m.StoredName),
		originalName: m.OriginalName,
		size:         m.Size,
		extension:    m.Extension,
	}
}
