package domain

import "errors"

var (
	// ErrMalformedRow reports a CSV line that does not split into seven fields.
	ErrMalformedRow = errors.New("malformed row")

	// ErrMissingField reports a wire payload with an absent or empty field.
	ErrMissingField = errors.New("missing field")

	// ErrBadTimestamp reports a timestamp matching none of the accepted layouts.
	ErrBadTimestamp = errors.New("bad timestamp")

	// ErrBadNumber reports a numeric field that is not a finite decimal.
	ErrBadNumber = errors.New("bad number")

	// ErrInvalidRecord reports a parsed record that violates a field constraint.
	ErrInvalidRecord = errors.New("invalid record")
)
