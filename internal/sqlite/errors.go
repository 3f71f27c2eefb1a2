package sqlite

import (
	"errors"

	sqlitelib "modernc.org/sqlite"
)

// SQLite extended result codes used for constraint violation detection.
const (
	codeConstraintUnique     = 2067
	codeConstraintPrimaryKey = 1555
)

// IsUniqueViolation reports whether err represents a SQLite unique or
// primary key constraint violation.
func IsUniqueViolation(err error) bool {
	var se *sqlitelib.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == codeConstraintUnique || se.Code() == codeConstraintPrimaryKey
}
