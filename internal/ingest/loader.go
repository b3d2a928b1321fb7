package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
)

// Loader reads candidate record batches from a directory of JSON files, one
// file per entity type (customers.json, devices.json, ...). A missing file
// means no candidates of that type; a malformed file contributes nothing and
// is reported as a warning rather than failing the run.
type Loader struct {
	inputDir string
	logger   *logger.Logger
}

// NewLoader creates a new batch loader
func NewLoader(inputDir string, logger *logger.Logger) *Loader {
	return &Loader{
		inputDir: inputDir,
		logger:   logger,
	}
}

// Load reads every entity file into one record batch, preserving file order
// within each entity type.
func (l *Loader) Load(ctx context.Context) (*entities.RecordBatch, error) {
	if _, err := os.Stat(l.inputDir); err != nil {
		return nil, fmt.Errorf("input directory %s: %w", l.inputDir, err)
	}

	batch := entities.NewRecordBatch()
	for _, entity := range entities.EntityTypesInDependencyOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(l.inputDir, string(entity)+".json")
		rows, err := l.loadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			l.logger.Warnw("skipping malformed input file",
				"path", path,
				"error", err)
			continue
		}
		batch.Append(entity, rows...)
	}

	l.logger.Infow("batch loaded",
		"input_dir", l.inputDir,
		"rows", batch.Len())
	return batch, nil
}

func (l *Loader) loadFile(path string) ([]entities.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// UseNumber keeps large identifiers and amounts exact
	dec := json.NewDecoder(f)
	dec.UseNumber()

	var rows []entities.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}
