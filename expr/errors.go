package expr

import "errors"

var (
	// ErrInvalidCondition is returned when a condition tree cannot be
	// rendered (empty AND/OR, unsupported comparison against a missing
	// value, IN with no candidates, operand encoding to empty).
	ErrInvalidCondition = errors.New("strata: invalid condition")

	// ErrMissingSubject is returned when an atomic condition or update
	// expression is requested without the object it applies to.
	ErrMissingSubject = errors.New("strata: update/atomic requested without a subject object")
)
