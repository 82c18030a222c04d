package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"qbank-server/models"
)

// LoadBatchFile reads an extraction batch from a .json, .yaml or .yml file.
func LoadBatchFile(path string) (Request, error) {
	var req Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read batch file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &req); err != nil {
			return req, models.Invalid("file", "malformed JSON in %s: %v", filepath.Base(path), err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, models.Invalid("file", "malformed YAML in %s: %v", filepath.Base(path), err)
		}
	default:
		return req, models.Invalid("file", "unsupported batch file extension %q", filepath.Ext(path))
	}
	return req, nil
}

// IngestFile loads name from dir and runs it through Ingest. name must be a
// plain file name inside dir.
func (p *Pipeline) IngestFile(ctx context.Context, dir, name string) (Result, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return Result{}, models.Invalid("name", "must be a plain file name")
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{}, models.Invalid("name", "batch file %q not found", name)
		}
		return Result{}, fmt.Errorf("failed to stat batch file: %w", err)
	}
	req, err := LoadBatchFile(path)
	if err != nil {
		return Result{}, err
	}
	p.log.Info("ingesting batch file", "file", name, "exam", req.ExamType)
	return p.Ingest(ctx, req)
}
