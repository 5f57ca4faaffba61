package workflow

import (
	"fmt"

	"github.com/practicehq/crm/internal/models"
)

// ValidateGraph structurally checks a workflow graph: exactly one START step,
// at least one END step, and every step reachable from START via transitions.
// Cycles among non-terminal steps are permitted. Does not mutate anything.
func ValidateGraph(wf *models.Workflow) (bool, []string) {
	var errs []string

	var start *models.Step
	startCount := 0
	endCount := 0
	for _, step := range wf.Steps {
		switch step.StepType {
		case models.StepTypeStart:
			startCount++
			start = step
		case models.StepTypeEnd:
			endCount++
		}
	}

	if startCount == 0 {
		errs = append(errs, "workflow has no START step")
	} else if startCount > 1 {
		errs = append(errs, fmt.Sprintf("workflow has %d START steps, expected exactly one", startCount))
	}
	if endCount == 0 {
		errs = append(errs, "workflow has no END step")
	}

	if start != nil {
		reachable := reachableFrom(start.ID, wf.Transitions)
		for _, step := range wf.Steps {
			if step.ID == start.ID || reachable[step.ID] {
				continue
			}
			if step.StepType == models.StepTypeEnd {
				errs = append(errs, fmt.Sprintf("END step %q is not reachable from START", step.Name))
			} else {
				errs = append(errs, fmt.Sprintf("step %q is not reachable from START", step.Name))
			}
		}
	}

	return len(errs) == 0, errs
}

// reachableFrom walks the transition edges breadth-first from the given step
func reachableFrom(startID int64, transitions []*models.Transition) map[int64]bool {
	edges := make(map[int64][]int64)
	for _, t := range transitions {
		edges[t.FromStepID] = append(edges[t.FromStepID], t.ToStepID)
	}

	reached := make(map[int64]bool)
	queue := []int64{startID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range edges[current] {
			if next == startID || reached[next] {
				continue
			}
			reached[next] = true
			queue = append(queue, next)
		}
	}
	return reached
}

// GetGraph loads a workflow with its full graph
func (s *Service) GetGraph(workflowID int64) (*models.Workflow, error) {
	wf, err := s.workflowRepo.GetGraph(workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("%w: workflow %d", ErrNotFound, workflowID)
	}
	return wf, nil
}

// ValidateWorkflow loads a workflow graph and structurally validates it
func (s *Service) ValidateWorkflow(workflowID int64) (bool, []string, error) {
	wf, err := s.workflowRepo.GetGraph(workflowID)
	if err != nil {
		return false, nil, err
	}
	if wf == nil {
		return false, nil, fmt.Errorf("%w: workflow %d", ErrNotFound, workflowID)
	}

	valid, errs := ValidateGraph(wf)
	return valid, errs, nil
}
