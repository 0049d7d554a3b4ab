package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Iacob98/cometa-warehouse/internal/domain/errs"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

// mapError tags lock and serialization failures as transient. Everything else
// passes through untouched so the ledger can classify it.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var de *errs.Error
	if errors.As(err, &de) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "40001", "40P01", "55P03", "57014": // serialization / deadlock / lock_not_available / query_canceled
			return store.Transient(err)
		case "08000", "08003", "08006", "57P01":
			return store.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return store.Transient(err)
	}
	return err
}
