package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes reported when a table or column has not been provisioned yet.
const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
)

// IsSchemaMissing reports whether err was raised because the target relation or one of its
// columns does not exist.
func IsSchemaMissing(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeUndefinedTable || pgErr.Code == codeUndefinedColumn
}
