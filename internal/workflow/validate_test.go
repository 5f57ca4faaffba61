package workflow

import (
	"testing"

	"github.com/practicehq/crm/internal/models"
	"github.com/stretchr/testify/assert"
)

func step(id int64, name string, stepType models.StepType) *models.Step {
	return &models.Step{ID: id, Name: name, StepType: stepType}
}

func edge(from, to int64) *models.Transition {
	return &models.Transition{FromStepID: from, ToStepID: to}
}

func TestValidateGraph(t *testing.T) {
	tests := []struct {
		name        string
		workflow    *models.Workflow
		expectValid bool
		expectErrs  int
	}{
		{
			name: "valid linear graph",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "pending", models.StepTypeStart),
					step(2, "processing", models.StepTypeNormal),
					step(3, "completed", models.StepTypeEnd),
				},
				Transitions: []*models.Transition{edge(1, 2), edge(2, 3)},
			},
			expectValid: true,
		},
		{
			name: "cycle between non-terminal steps is permitted",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "pending", models.StepTypeStart),
					step(2, "processing", models.StepTypeNormal),
					step(3, "query", models.StepTypeQuery),
					step(4, "completed", models.StepTypeEnd),
				},
				Transitions: []*models.Transition{
					edge(1, 2), edge(2, 3), edge(3, 2), edge(2, 4),
				},
			},
			expectValid: true,
		},
		{
			name: "no START step",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "processing", models.StepTypeNormal),
					step(2, "completed", models.StepTypeEnd),
				},
				Transitions: []*models.Transition{edge(1, 2)},
			},
			expectValid: false,
			expectErrs:  1,
		},
		{
			name: "two START steps",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "pending", models.StepTypeStart),
					step(2, "intake", models.StepTypeStart),
					step(3, "completed", models.StepTypeEnd),
				},
				Transitions: []*models.Transition{edge(1, 3), edge(2, 3)},
			},
			expectValid: false,
			expectErrs:  1,
		},
		{
			name: "no END step",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "pending", models.StepTypeStart),
					step(2, "processing", models.StepTypeNormal),
				},
				Transitions: []*models.Transition{edge(1, 2)},
			},
			expectValid: false,
			expectErrs:  1,
		},
		{
			name: "unreachable step",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "pending", models.StepTypeStart),
					step(2, "processing", models.StepTypeNormal),
					step(3, "orphan", models.StepTypeNormal),
					step(4, "completed", models.StepTypeEnd),
				},
				Transitions: []*models.Transition{edge(1, 2), edge(2, 4)},
			},
			expectValid: false,
			expectErrs:  1,
		},
		{
			name: "unreachable END step",
			workflow: &models.Workflow{
				Steps: []*models.Step{
					step(1, "pending", models.StepTypeStart),
					step(2, "completed", models.StepTypeEnd),
					step(3, "cancelled", models.StepTypeEnd),
				},
				Transitions: []*models.Transition{edge(1, 2)},
			},
			expectValid: false,
			expectErrs:  1,
		},
		{
			name: "empty graph",
			workflow: &models.Workflow{
				Steps: []*models.Step{},
			},
			expectValid: false,
			expectErrs:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, errs := ValidateGraph(tt.workflow)
			assert.Equal(t, tt.expectValid, valid)
			assert.Len(t, errs, tt.expectErrs)
		})
	}
}

func TestReachableFrom(t *testing.T) {
	transitions := []*models.Transition{
		edge(1, 2), edge(2, 3), edge(3, 2), edge(2, 4),
	}

	reached := reachableFrom(1, transitions)

	assert.True(t, reached[2])
	assert.True(t, reached[3])
	assert.True(t, reached[4])
	assert.False(t, reached[1], "start itself is not in the reached set")
	assert.False(t, reached[99])
}
