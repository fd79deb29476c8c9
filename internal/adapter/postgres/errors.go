package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// SQLSTATE classes for failures that will recur on every retry of the same row.
const (
	classDataException       = "22"
	classIntegrityConstraint = "23"
)

// IsTransient reports whether a failed write is worth retrying. Only errors
// the server attributes to the row itself (data exceptions and constraint
// violations) are permanent. Anything else is retried, including schema and
// permission errors such as 42P01, which hold the partition's lane until an
// operator fixes the database.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case classDataException, classIntegrityConstraint:
			return false
		}
	}
	return true
}

// IsTransient is the method form of IsTransient, so a DB can classify its own
// failures for callers that only see it through an interface.
func (d *DB) IsTransient(err error) bool {
	return IsTransient(err)
}
