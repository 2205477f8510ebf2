package errors

import (
	stdErrors "errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "insert ledger entry")
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be discoverable via errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %s", err.Code())
	}
}

func TestAsFindsTypedError(t *testing.T) {
	inner := New(CodeContention, "order is leased")
	outer := Wrap(CodeInternal, inner, "verify payment")
	if typed := As(outer); typed == nil || typed.Code() != CodeInternal {
		t.Fatalf("expected outer typed error, got %v", typed)
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors must not satisfy As")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != MetadataFor(CodeInternal).HTTPStatus {
		t.Fatalf("unknown code should map to internal metadata, got %+v", meta)
	}
}

func TestRetryablePolicy(t *testing.T) {
	cases := []struct {
		code      Code
		retryable bool
	}{
		{CodeContention, true},
		{CodeDependency, true},
		{CodeInternal, true},
		{CodeValidation, false},
		{CodeIntegrityViolation, false},
		{CodeStateConflict, false},
	}
	for _, tc := range cases {
		if got := Retryable(New(tc.code, "x")); got != tc.retryable {
			t.Fatalf("%s: expected retryable=%v got %v", tc.code, tc.retryable, got)
		}
	}
	if !Retryable(stdErrors.New("untyped")) {
		t.Fatal("untyped errors should be retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil is not retryable")
	}
}

func TestDumpExtractsPgFields(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_order_locks_open",
		TableName:      "order_locks",
	}
	wrapped := Wrap(CodeContention, pgErr, "acquire lease")
	d := Dump(wrapped)
	if d.PGCode != "23505" {
		t.Fatalf("expected pg code 23505, got %q", d.PGCode)
	}
	if d.PGConstraint != "ux_order_locks_open" {
		t.Fatalf("expected constraint name, got %q", d.PGConstraint)
	}
	if d.Code != CodeContention {
		t.Fatalf("expected typed code in dump, got %q", d.Code)
	}
	if len(d.Chain) < 2 {
		t.Fatalf("expected chain of at least 2, got %d", len(d.Chain))
	}
}
