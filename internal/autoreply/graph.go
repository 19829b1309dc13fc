package autoreply

import (
	"fmt"
	"sort"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

// Graph is a flow indexed for traversal. Steps live in one slice and are addressed by
// index, so cyclic flows need no pointers between steps.
type Graph struct {
	flow    Flow
	steps   []Step
	index   map[string]int
	initial int
	dupes   []string
	entries []int
}

// NewGraph indexes f. Structural problems are reported by Validate.
func NewGraph(f Flow) *Graph {
	g := &Graph{
		flow:    f,
		steps:   f.Steps,
		index:   make(map[string]int, len(f.Steps)),
		initial: -1,
	}
	for i, step := range f.Steps {
		if _, dup := g.index[step.ID]; dup {
			g.dupes = append(g.dupes, step.ID)
			continue
		}
		g.index[step.ID] = i
		if step.Initial {
			g.entries = append(g.entries, i)
		}
	}
	if len(g.entries) == 1 {
		g.initial = g.entries[0]
	}
	return g
}

// Flow returns the indexed flow.
func (g *Graph) Flow() Flow {
	return g.flow
}

// Validate rejects flows the stepper cannot run and returns warnings for steps no path
// from the initial step reaches.
func (g *Graph) Validate() ([]string, error) {
	const op = "autoreply.validate"
	if len(g.steps) == 0 {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "flow %s has no steps", g.flow.ID)
	}
	if len(g.dupes) > 0 {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "flow %s repeats step ids %v", g.flow.ID, g.dupes)
	}
	if len(g.entries) != 1 {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "flow %s must have exactly one initial step, has %d", g.flow.ID, len(g.entries))
	}
	for _, step := range g.steps {
		for i, it := range step.Interactions {
			switch it.Action {
			case ActionNextStep:
				if it.NextStepID == "" {
					continue
				}
				if _, ok := g.index[it.NextStepID]; !ok {
					return nil, apperr.Newf(apperr.KindConfiguration, op, "step %s option %d points to unknown step %s", step.ID, i+1, it.NextStepID)
				}
			case ActionQueue:
				if it.QueueID == "" {
					return nil, apperr.Newf(apperr.KindConfiguration, op, "step %s option %d has no queue", step.ID, i+1)
				}
			case ActionUser:
				if it.UserID == "" {
					return nil, apperr.Newf(apperr.KindConfiguration, op, "step %s option %d has no user", step.ID, i+1)
				}
			default:
				return nil, apperr.Newf(apperr.KindConfiguration, op, "step %s option %d has unknown action %q", step.ID, i+1, it.Action)
			}
		}
	}

	seen := make([]bool, len(g.steps))
	stack := []int{g.initial}
	seen[g.initial] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, it := range g.steps[cur].Interactions {
			if it.Action != ActionNextStep || it.NextStepID == "" {
				continue
			}
			next := g.index[it.NextStepID]
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	var warnings []string
	for i, ok := range seen {
		if !ok {
			warnings = append(warnings, fmt.Sprintf("step %s is unreachable", g.steps[i].ID))
		}
	}
	sort.Strings(warnings)
	return warnings, nil
}

// Initial returns the entry step.
func (g *Graph) Initial() (Step, bool) {
	if g.initial < 0 {
		return Step{}, false
	}
	return g.steps[g.initial], true
}

// Step returns the step with id.
func (g *Graph) Step(id string) (Step, bool) {
	i, ok := g.index[id]
	if !ok {
		return Step{}, false
	}
	return g.steps[i], true
}
