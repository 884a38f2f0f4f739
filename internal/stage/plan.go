// Package stage runs multi-stage agent workflows: dependency planning,
// wave scheduling, retries, checkpoints, and resume.
package stage

import (
	"strings"

	"automatosx/internal/errs"
	"automatosx/internal/profile"
)

// Wave is one scheduling step: parallel stages run concurrently, serial
// stages run afterwards in declaration order.
type Wave struct {
	Parallel []profile.Stage
	Serial   []profile.Stage
}

// Stages returns the wave's stages in execution order (parallel first).
func (w Wave) Stages() []profile.Stage {
	out := make([]profile.Stage, 0, len(w.Parallel)+len(w.Serial))
	out = append(out, w.Parallel...)
	out = append(out, w.Serial...)
	return out
}

// Plan is the linearized execution order for a profile's stages.
type Plan struct {
	Waves []Wave
	// Topo is all stages in topological (wave, declaration) order.
	Topo []profile.Stage
}

// BuildPlan validates the dependency DAG and linearizes it into waves.
// Wave k holds the stages whose dependencies are all satisfied after wave
// k-1.
func BuildPlan(stages []profile.Stage) (*Plan, error) {
	byName := make(map[string]profile.Stage, len(stages))
	for _, st := range stages {
		if _, dup := byName[st.Name]; dup {
			return nil, errs.Newf(errs.CodeStageDependencyCycle, "duplicate stage name: %s", st.Name)
		}
		byName[st.Name] = st
	}

	for _, st := range stages {
		for _, dep := range st.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, errs.Newf(errs.CodeStageDependencyCycle,
					"stage %q depends on unknown stage %q", st.Name, dep)
			}
		}
	}

	if cycle := findCycle(stages); cycle != nil {
		return nil, errs.Newf(errs.CodeStageDependencyCycle,
			"stage dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	plan := &Plan{}
	done := make(map[string]bool, len(stages))
	remaining := append([]profile.Stage(nil), stages...)

	for len(remaining) > 0 {
		var wave Wave
		var next []profile.Stage
		for _, st := range remaining {
			ready := true
			for _, dep := range st.Dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, st)
				continue
			}
			if st.Parallel {
				wave.Parallel = append(wave.Parallel, st)
			} else {
				wave.Serial = append(wave.Serial, st)
			}
		}

		for _, st := range wave.Stages() {
			done[st.Name] = true
			plan.Topo = append(plan.Topo, st)
		}
		plan.Waves = append(plan.Waves, wave)
		remaining = next
	}

	return plan, nil
}

// findCycle returns a dependency cycle as a name path, or nil.
func findCycle(stages []profile.Stage) []string {
	deps := make(map[string][]string, len(stages))
	for _, st := range stages {
		deps[st.Name] = st.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(stages))
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		path = append(path, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the path from the repeat.
				for i, n := range path {
					if n == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
				return []string{dep, name, dep}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		color[name] = black
		path = path[:len(path)-1]
		return nil
	}

	for _, st := range stages {
		if color[st.Name] == white {
			if cycle := visit(st.Name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// EvalCondition evaluates a symbolic predicate like "impl.success" or
// "impl.failure" against completed stage results. An empty condition is
// true; an unknown reference is false.
func EvalCondition(condition string, results map[string]*StageState) bool {
	if condition == "" {
		return true
	}

	name, outcome, ok := strings.Cut(condition, ".")
	if !ok {
		return false
	}

	st, present := results[name]
	if !present {
		return false
	}

	switch outcome {
	case "success":
		return st.Status == StatusCompleted
	case "failure":
		return st.Status == StatusFailed
	default:
		return false
	}
}
