package pipeline

import (
	"context"
	"log/slog"
	"time"

	"mexscan/internal/config"
	"mexscan/internal/mexc"
)

// StageMetrics is what a stage reports into pipeline_state.json.
type StageMetrics map[string]any

// StageContext carries everything a stage needs. Config and logger are
// threaded explicitly; stages never reach for globals.
type StageContext struct {
	RunDir      string
	Config      *config.Config
	Logger      *slog.Logger
	Client      *mexc.Client
	MetricsPath string

	// Deadline is the absolute stage deadline; zero means none.
	Deadline time.Time

	// Strict toggles artifact validation strictness. Dry runs use
	// lenient validation so an empty prior run can still be planned.
	Strict bool
}

// Stage is one pipeline step. The stage set is closed: only the five
// stages declared in Stages exist, and plans select among them.
type Stage struct {
	Name    string
	Inputs  []string
	Outputs []string

	Run             func(ctx context.Context, sc *StageContext) (StageMetrics, error)
	ValidateInputs  func(sc *StageContext) []string
	ValidateOutputs func(sc *StageContext) []string
}

// StageOrder is the canonical execution order.
var StageOrder = []string{
	StageUniverse,
	StageSpread,
	StageScore,
	StageDepth,
	StageReport,
}

const (
	StageUniverse = "universe"
	StageSpread   = "spread"
	StageScore    = "score"
	StageDepth    = "depth"
	StageReport   = "report"
)
