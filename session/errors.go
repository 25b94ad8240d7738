package session

import "errors"

var (
	// ErrConditionFailed is returned when a conditional write's
	// precondition was not satisfied. It is expected business-logic
	// feedback and is never retried.
	ErrConditionFailed = errors.New("strata: condition not satisfied")

	// ErrNotFound is returned when a requested item, table or stream does
	// not exist.
	ErrNotFound = errors.New("strata: not found")

	// ErrRecordsExpired is returned when a requested stream position is
	// older than the partition's retention window.
	ErrRecordsExpired = errors.New("strata: stream records expired")

	// ErrIteratorExpired is returned when a shard iterator handle has
	// passed its wall-clock expiry and must be re-derived.
	ErrIteratorExpired = errors.New("strata: shard iterator expired")

	// ErrInvalidToken is returned when a stream position token refers to a
	// shard forest the live stream no longer knows.
	ErrInvalidToken = errors.New("strata: invalid stream token")
)
