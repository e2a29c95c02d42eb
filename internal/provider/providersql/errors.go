package providersql

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

const (
	uniqueViolation = "23505"
	undefinedTable  = "42P01"
)

func handlePgError(err error) (error, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err, false
	}

	switch pgErr.Code {
	case uniqueViolation:
		return serviceerr.ErrConflict, true
	case undefinedTable:
		return serviceerr.ErrUnavailable, true
	}

	return err, false
}
