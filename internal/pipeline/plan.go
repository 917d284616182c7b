package pipeline

import (
	"fmt"
	"strings"
)

// PlanRequest selects which stages to run. Stages and the From/To
// range are mutually exclusive; leaving everything empty runs the full
// pipeline.
type PlanRequest struct {
	Stages []string
	From   string
	To     string
}

// BuildPlan resolves a request against the closed stage set and
// returns the selected stages in canonical order.
func BuildPlan(all []Stage, req PlanRequest) ([]Stage, error) {
	byName := make(map[string]Stage, len(all))
	for _, stage := range all {
		byName[stage.Name] = stage
	}

	if len(req.Stages) > 0 && (req.From != "" || req.To != "") {
		return nil, NewPlanError("--stages cannot be combined with --from/--to")
	}

	if len(req.Stages) > 0 {
		selected := make(map[string]bool, len(req.Stages))
		prevIdx := -1
		for _, name := range req.Stages {
			if _, ok := byName[name]; !ok {
				return nil, NewPlanError("unknown stage %q; valid stages: %s",
					name, strings.Join(StageOrder, ", "))
			}
			if selected[name] {
				return nil, NewPlanError("stage %q listed twice", name)
			}
			idx, err := stageIndex(name)
			if err != nil {
				return nil, err
			}
			if idx < prevIdx {
				return nil, NewPlanError("stages must follow the fixed order %s",
					strings.Join(StageOrder, ", "))
			}
			prevIdx = idx
			selected[name] = true
		}
		plan := make([]Stage, 0, len(req.Stages))
		for _, name := range req.Stages {
			plan = append(plan, byName[name])
		}
		return plan, nil
	}

	fromIdx, toIdx := 0, len(StageOrder)-1
	if req.From != "" {
		idx, err := stageIndex(req.From)
		if err != nil {
			return nil, err
		}
		fromIdx = idx
	}
	if req.To != "" {
		idx, err := stageIndex(req.To)
		if err != nil {
			return nil, err
		}
		toIdx = idx
	}
	if fromIdx > toIdx {
		return nil, NewPlanError("--from %q comes after --to %q", req.From, req.To)
	}

	plan := make([]Stage, 0, toIdx-fromIdx+1)
	for _, name := range StageOrder[fromIdx : toIdx+1] {
		stage, ok := byName[name]
		if !ok {
			return nil, NewPlanError("stage %q is not registered", name)
		}
		plan = append(plan, stage)
	}
	return plan, nil
}

func stageIndex(name string) (int, error) {
	for i, candidate := range StageOrder {
		if candidate == name {
			return i, nil
		}
	}
	return 0, NewPlanError("unknown stage %q; valid stages: %s",
		name, strings.Join(StageOrder, ", "))
}

// describePlan renders the plan for logging.
func describePlan(plan []Stage) string {
	names := make([]string, len(plan))
	for i, stage := range plan {
		names[i] = stage.Name
	}
	return fmt.Sprintf("[%s]", strings.Join(names, " "))
}
