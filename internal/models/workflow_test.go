package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepType_IsValid(t *testing.T) {
	for _, s := range []StepType{StepTypeStart, StepTypeNormal, StepTypeQuery, StepTypeEnd} {
		assert.True(t, s.IsValid(), s.String())
	}
	assert.False(t, StepType("MIDDLE").IsValid())
	assert.False(t, StepType("").IsValid())
}

func TestStep_AllowsRole(t *testing.T) {
	s := &Step{AllowedRoles: []string{RoleAdmin, RoleAccountant}}
	assert.True(t, s.AllowsRole(RoleAdmin))
	assert.True(t, s.AllowsRole(RoleAccountant))
	assert.False(t, s.AllowsRole(RoleUser))

	empty := &Step{}
	assert.False(t, empty.AllowsRole(RoleAdmin))
}

func TestRoleRoundTrip(t *testing.T) {
	raw := MarshalRoles([]string{RoleAdmin, RoleUser})
	assert.Equal(t, `["admin","user"]`, raw)
	assert.Equal(t, []string{RoleAdmin, RoleUser}, UnmarshalRoles(raw))

	assert.Equal(t, "[]", MarshalRoles(nil))
	assert.Empty(t, UnmarshalRoles(""))
	assert.Empty(t, UnmarshalRoles("not json"))
}

func TestAssignmentType_RequiresReason(t *testing.T) {
	assert.False(t, AssignmentInitial.RequiresReason())
	assert.True(t, AssignmentReassignment.RequiresReason())
	assert.True(t, AssignmentEscalation.RequiresReason())
}
