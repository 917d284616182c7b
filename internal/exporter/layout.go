package exporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunLayout locates the fixed files of a run directory.
type RunLayout struct {
	RunDir      string
	RunMetaPath string
	MetricsPath string
	StatePath   string
}

// RunMeta is persisted to run_meta.json at run start and rewritten
// with the final status when the run ends.
type RunMeta struct {
	RunID          string `json:"run_id"`
	StartedAt      string `json:"started_at"`
	GitCommit      string `json:"git_commit,omitempty"`
	ConfigHash     string `json:"config_hash"`
	Status         string `json:"status"`
	ScannerVersion string `json:"scanner_version"`
	SpecVersion    string `json:"spec_version"`
	RunHealth      string `json:"run_health,omitempty"`
	Error          string `json:"error,omitempty"`
}

// NewRunLayout computes the fixed paths of output/run_<id> without
// touching the filesystem.
func NewRunLayout(outputDir, runID string) RunLayout {
	runDir := filepath.Join(outputDir, fmt.Sprintf("run_%s", runID))
	return RunLayout{
		RunDir:      runDir,
		RunMetaPath: filepath.Join(runDir, "run_meta.json"),
		MetricsPath: filepath.Join(runDir, "metrics.json"),
		StatePath:   filepath.Join(runDir, "pipeline_state.json"),
	}
}

// EnsureRunLayout creates (or reopens, for resume) the run directory
// output/run_<id> and seeds metrics.json when absent.
func EnsureRunLayout(outputDir, runID string) (RunLayout, error) {
	layout := NewRunLayout(outputDir, runID)
	if err := os.MkdirAll(layout.RunDir, 0o755); err != nil {
		return RunLayout{}, fmt.Errorf("create run dir: %w", err)
	}

	if _, err := os.Stat(layout.MetricsPath); os.IsNotExist(err) {
		seed := map[string]any{
			"requests_total": 0,
			"errors_total":   0,
			"retries_total":  0,
			"created_at":     time.Now().UTC().Format(time.RFC3339),
		}
		if err := writeJSON(layout.MetricsPath, seed); err != nil {
			return RunLayout{}, err
		}
	} else if err != nil {
		return RunLayout{}, fmt.Errorf("stat metrics file: %w", err)
	}

	return layout, nil
}

// WriteRunMeta writes run_meta.json atomically.
func WriteRunMeta(path string, meta RunMeta) error {
	return writeJSONAtomic(path, meta)
}

// ReadRunMeta loads run_meta.json.
func ReadRunMeta(path string) (RunMeta, error) {
	var meta RunMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read run meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse run meta: %w", err)
	}
	return meta, nil
}

func writeJSON(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONAtomic writes via a temp file and rename so a crash never
// leaves a half-written artifact behind.
func writeJSONAtomic(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
