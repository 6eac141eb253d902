package postgres

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sensapp/sensapp/internal/sensapperr"
)

func TestClassifyPgErrorSQLState(t *testing.T) {
	cases := []struct {
		code string
		want sensapperr.Kind
	}{
		{"40001", sensapperr.KindBackendTransient}, // serialization_failure
		{"40P01", sensapperr.KindBackendTransient}, // deadlock_detected
		{"08006", sensapperr.KindBackendTransient}, // connection_failure
		{"23505", sensapperr.KindBackendTransient}, // unique_violation: single-flight race, resolves on re-read
		{"53100", sensapperr.KindBackendFatal},     // disk_full
		{"53200", sensapperr.KindBackendFatal},     // out_of_memory
		{"58030", sensapperr.KindBackendFatal},     // io_error
		{"42P01", sensapperr.KindBackendFatal},     // undefined_table: broken migration
		{"XX001", sensapperr.KindBackendFatal},     // data_corrupted
	}
	for _, c := range cases {
		err := classifyPgError("op", &pgconn.PgError{Code: c.code, Message: "boom"})
		if got := sensapperr.KindOf(err); got != c.want {
			t.Errorf("code %s: kind = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestClassifyPgErrorTransport(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want sensapperr.Kind
	}{
		{"eof", io.EOF, sensapperr.KindBackendTransient},
		{"unexpectedEOF", io.ErrUnexpectedEOF, sensapperr.KindBackendTransient},
		{"connReset", syscall.ECONNRESET, sensapperr.KindBackendTransient},
		{"brokenPipe", syscall.EPIPE, sensapperr.KindBackendTransient},
		{"cancelled", context.Canceled, sensapperr.KindCancelled},
		{"deadline", context.DeadlineExceeded, sensapperr.KindTimeout},
		{"unknown", errors.New("something structural went wrong"), sensapperr.KindBackendFatal},
	}
	for _, c := range cases {
		err := classifyPgError("op", c.err)
		if got := sensapperr.KindOf(err); got != c.want {
			t.Errorf("%s: kind = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestClassifyPgErrorNil(t *testing.T) {
	if err := classifyPgError("op", nil); err != nil {
		t.Errorf("classifyPgError(nil) = %v", err)
	}
}

func TestClassifyRetryInteraction(t *testing.T) {
	transient := classifyPgError("op", &pgconn.PgError{Code: "40001"})
	if !sensapperr.Retryable(transient) {
		t.Error("serialization failure must be retryable")
	}
	fatal := classifyPgError("op", &pgconn.PgError{Code: "53100"})
	if sensapperr.Retryable(fatal) {
		t.Error("disk full must not be retried")
	}
}
