package validate

import (
	"testing"

	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
)

type sampleInput struct {
	Reference string `json:"reference" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=paid partial failed"`
	Recipient string `json:"recipient" validate:"omitempty,email"`
}

func TestStructPasses(t *testing.T) {
	err := Struct(sampleInput{Reference: "txn_1", Status: "paid", Recipient: "ops@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructCollectsFieldDetails(t *testing.T) {
	err := Struct(sampleInput{Status: "settled"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected coded validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected detail map, got %T", typed.Details())
	}
	if details["reference"] != "is required" {
		t.Fatalf("expected reference detail, got %q", details["reference"])
	}
	if details["status"] == "" {
		t.Fatal("expected status detail for oneof failure")
	}
}
