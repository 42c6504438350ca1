package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/niechao136/neGraph"
)

// SQLSTATE codes surfaced as negraph.ErrConstraintViolation.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// mapError wraps err with the operation name and, where it applies, with
// one of the negraph sentinel errors so callers can match it with errors.Is.
// Errors already classified as negraph.ErrConnection are returned as is.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, negraph.ErrConnection) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation:
			return fmt.Errorf("negraph: %s: %w: %w", op, negraph.ErrConstraintViolation, err)
		}
		return fmt.Errorf("negraph: %s: %w", op, err)
	}

	if isConnectionError(err) {
		return fmt.Errorf("negraph: %s: %w: %w", op, negraph.ErrConnection, err)
	}

	return fmt.Errorf("negraph: %s: %w", op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
