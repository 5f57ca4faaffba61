package workflow

import "errors"

var (
	// ErrNotFound is returned when a workflow, step or transition is missing
	ErrNotFound = errors.New("not found")

	// ErrStepNotFound is returned when a request's current step cannot be resolved
	ErrStepNotFound = errors.New("step not found")

	// ErrInvalidTransition is returned when a transition's source step does not
	// match the request's current step
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrForbidden is returned when the actor's role may not execute a transition
	ErrForbidden = errors.New("forbidden")

	// ErrConditionNotMet is returned when an invoice/assignment gate fails
	ErrConditionNotMet = errors.New("condition not met")

	// ErrValidation is returned for a malformed graph on authoring or duplication
	ErrValidation = errors.New("validation error")
)
