package postgres

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sensapp/sensapp/internal/sensapperr"
)

// classifyPgError maps a database error to its kind so the publish retry
// loop and the HTTP layer can tell BackendTransient from BackendFatal.
//
// SQLSTATE class 40 (transaction rollback: serialization failures,
// deadlocks) and 08 (connection exceptions) are retryable. Class 53
// (insufficient resources: disk full, out of memory), 58 (system errors),
// 42 (schema: undefined table/column, which means a broken or missing
// migration) and XX (internal corruption) are fatal. The remaining
// classes default to transient; that covers class 23 unique violations,
// which are expected under concurrent single-flight races and resolve on
// re-read.
//
// Errors without an SQLSTATE are transient only when they look like a
// dropped connection; anything else at the transport layer is fatal.
func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch sqlStateClass(pgErr.Code) {
		case "53", "58", "42", "XX":
			return sensapperr.Wrap(sensapperr.KindBackendFatal, op, err)
		default:
			return sensapperr.Wrap(sensapperr.KindBackendTransient, op, err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return sensapperr.Wrap(sensapperr.KindCancelled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sensapperr.Wrap(sensapperr.KindTimeout, op, err)
	}
	if isConnectionError(err) {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, op, err)
	}
	return sensapperr.Wrap(sensapperr.KindBackendFatal, op, err)
}

func sqlStateClass(code string) string {
	if len(code) < 2 {
		return code
	}
	return code[:2]
}

// isConnectionError reports whether err is a transport failure a fresh
// connection from the pool can be expected to survive.
func isConnectionError(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
