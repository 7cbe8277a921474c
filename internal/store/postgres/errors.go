package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// postgres error codes referenced by name throughout this package.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation = "23505"
)

// isUniqueViolation reports whether err is a unique-constraint violation
// on the named constraint. constraintName may be left empty to match any
// unique violation.
func isUniqueViolation(err error, constraintName string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != pgErrUniqueViolation {
		return false
	}
	return constraintName == "" || pgErr.ConstraintName == constraintName
}
