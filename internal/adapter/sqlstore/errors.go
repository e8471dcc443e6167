package sqlstore

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers mapped to constraint errors.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrDBAccessDenied     = 1044 // Access denied for user to database
	mysqlErrTableAccessDenied  = 1142 // command denied to user for table
	mysqlErrColumnAccessDenied = 1143 // command denied to user for column
	mysqlErrDuplicateEntry     = 1062
	mysqlErrRowIsReferenced    = 1451
	mysqlErrNoReferencedRow    = 1452
	mysqlErrBadNull            = 1048
	mysqlErrNoDefault          = 1364
)

// ConstraintError is a statement rejected by the database for a reason the
// caller can fix: a duplicate key, a dangling reference, a missing value or
// missing privileges.
type ConstraintError struct {
	Message   string
	Code      string
	MySQLCode uint16
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func newConstraintError(message, code string, mysqlCode uint16) error {
	return &ConstraintError{
		Message:   message,
		Code:      code,
		MySQLCode: mysqlCode,
	}
}

func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}

	switch mysqlErr.Number {
	case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
		return newConstraintError(mysqlErr.Message, "access_denied", mysqlErr.Number)
	case mysqlErrDuplicateEntry:
		return newConstraintError(mysqlErr.Message, "unique_violation", mysqlErr.Number)
	case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow:
		return newConstraintError(mysqlErr.Message, "foreign_key_violation", mysqlErr.Number)
	case mysqlErrBadNull, mysqlErrNoDefault:
		return newConstraintError(mysqlErr.Message, "not_null_violation", mysqlErr.Number)
	default:
		return err
	}
}
