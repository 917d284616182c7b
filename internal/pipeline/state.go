package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version identifiers recorded in run artifacts. SpecVersion guards
// resume: state written under a different artifact contract is not
// reused.
const (
	ScannerVersion = "0.1.0"
	SpecVersion    = "0.1"
)

// Stage status values persisted in pipeline_state.json.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusSkipped   = "skipped"
)

// StageError is the persisted failure of one stage.
type StageError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StageRecord is one stage's persisted execution record.
type StageRecord struct {
	Name       string       `json:"name"`
	Status     string       `json:"status"`
	StartedAt  string       `json:"started_at,omitempty"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Inputs     []string     `json:"inputs"`
	Outputs    []string     `json:"outputs"`
	Metrics    StageMetrics `json:"metrics,omitempty"`
	Error      *StageError  `json:"error,omitempty"`
}

// TimedOut reports whether the record marks a deadline hit, either via
// status, error type, or the timed_out metric a partial success keeps.
func (r *StageRecord) TimedOut() bool {
	if r.Status == StatusTimeout {
		return true
	}
	if r.Error != nil && r.Error.Type == string(ErrTypeStageTimeout) {
		return true
	}
	if r.Metrics != nil {
		if v, ok := r.Metrics["timed_out"]; ok {
			if b, ok := v.(bool); ok && b {
				return true
			}
		}
	}
	return false
}

// RunState is the whole pipeline_state.json document.
type RunState struct {
	RunID          string        `json:"run_id"`
	ScannerVersion string        `json:"scanner_version"`
	SpecVersion    string        `json:"spec_version"`
	Stages         []StageRecord `json:"stages"`
	UpdatedAt      string        `json:"updated_at"`
}

// NewRunState creates a fresh state document for a run.
func NewRunState(runID string) *RunState {
	return &RunState{
		RunID:          runID,
		ScannerVersion: ScannerVersion,
		SpecVersion:    SpecVersion,
	}
}

// LoadState reads pipeline_state.json. A missing file returns
// (nil, nil) so the caller can start fresh; a spec version mismatch is
// an error because the artifacts cannot be trusted for resume.
func LoadState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pipeline state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse pipeline state: %w", err)
	}
	if state.SpecVersion != SpecVersion {
		return nil, fmt.Errorf("pipeline state spec version %q does not match %q; cannot resume",
			state.SpecVersion, SpecVersion)
	}
	return &state, nil
}

// Save writes the state atomically (temp file plus rename) so an
// interrupted run never leaves a truncated state behind.
func (s *RunState) Save(path string) error {
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pipeline state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "pipeline_state.json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write pipeline state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close pipeline state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename pipeline state: %w", err)
	}
	return nil
}

// Record returns the stage's record, appending a pending one if the
// stage has never run.
func (s *RunState) Record(stage Stage) *StageRecord {
	for i := range s.Stages {
		if s.Stages[i].Name == stage.Name {
			return &s.Stages[i]
		}
	}
	s.Stages = append(s.Stages, StageRecord{
		Name:    stage.Name,
		Status:  StatusPending,
		Inputs:  append([]string(nil), stage.Inputs...),
		Outputs: append([]string(nil), stage.Outputs...),
	})
	return &s.Stages[len(s.Stages)-1]
}

// Lookup returns the record for a stage name, nil when absent.
func (s *RunState) Lookup(name string) *StageRecord {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			return &s.Stages[i]
		}
	}
	return nil
}
