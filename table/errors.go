package table

import "errors"

var (
	// ErrUnknownModel is returned when an operation references a table
	// with no registered schema. Programmer error; never retried.
	ErrUnknownModel = errors.New("strata: unknown model")

	// ErrInvalidSchema is returned when a schema is missing its table name
	// or hash key.
	ErrInvalidSchema = errors.New("strata: invalid schema")

	// ErrMissingKey is returned when an object does not carry values for
	// every key attribute of its schema.
	ErrMissingKey = errors.New("strata: object is missing key attributes")
)
