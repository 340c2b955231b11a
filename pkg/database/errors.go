package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const (
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
)

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique violation. When constraint
// is non-empty the violated constraint must also match.
func IsUniqueViolation(err error, constraint string) bool {
	return isViolation(err, uniqueViolation, constraint)
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error, constraint string) bool {
	return isViolation(err, foreignKeyViolation, constraint)
}

// ConstraintName returns the violated constraint, if err carries one.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

func isViolation(err error, code pq.ErrorCode, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
