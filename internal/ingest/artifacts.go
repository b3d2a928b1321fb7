package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
)

// ArtifactStore writes per-run artifacts under a base directory
type ArtifactStore struct {
	baseDir string
}

// NewArtifactStore creates a new artifact store
func NewArtifactStore(baseDir string) *ArtifactStore {
	return &ArtifactStore{baseDir: baseDir}
}

// WriteRejected stores the rejected-records artifact for one run and returns
// its path. The file is written atomically via rename so a crashed run never
// leaves a half-written artifact.
func (s *ArtifactStore) WriteRejected(runID string, issues []entities.ValidationIssue) (string, error) {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	path := filepath.Join(s.baseDir, fmt.Sprintf("rejected_records_%s.json", runID))
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode rejected records: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return path, nil
}
