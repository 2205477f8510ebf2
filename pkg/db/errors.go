package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When markers are given, the violation must reference one of them: a marker
// is either a constraint name (matched against the driver diagnostics) or a
// message fragment such as a column name, which keeps discrimination working
// on sqlite where errors only carry "UNIQUE constraint failed: table.column"
// text.
func IsUniqueViolation(err error, markers ...string) bool {
	if err == nil {
		return false
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		if pgxErr.Code != pgUniqueViolationCode {
			return false
		}
		return matchesMarker(pgxErr.ConstraintName, markers)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) != pgUniqueViolationCode {
			return false
		}
		return matchesMarker(pqErr.Constraint, markers)
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return matchesMarker(msg, markers)
}

func matchesMarker(subject string, markers []string) bool {
	if len(markers) == 0 {
		return true
	}
	for _, marker := range markers {
		if marker == "" || strings.Contains(subject, marker) {
			return true
		}
	}
	return false
}
