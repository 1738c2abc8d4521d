package validation

import (
	"testing"

	"github.com/boosthub/boosthub-system/internal/model"
)

func TestParseOrderStatus(t *testing.T) {
	valid := []string{"PENDING", "PAID", "ASSIGNED", "IN_PROGRESS", "COMPLETED", "CANCELLED"}
	for _, s := range valid {
		got, err := ParseOrderStatus(s)
		if err != nil {
			t.Errorf("ParseOrderStatus(%q) error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseOrderStatus(%q) = %q", s, got)
		}
	}

	for _, s := range []string{"", "pending", "DONE", "NEW"} {
		if _, err := ParseOrderStatus(s); err == nil {
			t.Errorf("ParseOrderStatus(%q) must fail", s)
		}
	}
}

func TestParsePaymentStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "PAID", "REFUNDED", "FAILED"} {
		if _, err := ParsePaymentStatus(s); err != nil {
			t.Errorf("ParsePaymentStatus(%q) error: %v", s, err)
		}
	}

	if _, err := ParsePaymentStatus("CHARGEBACK"); err == nil {
		t.Errorf("unknown payment status must fail")
	}
}

func TestParseRegistrationRole(t *testing.T) {
	for _, s := range []string{"CUSTOMER", "BOOSTER"} {
		if _, err := ParseRegistrationRole(s); err != nil {
			t.Errorf("ParseRegistrationRole(%q) error: %v", s, err)
		}
	}

	// Администратор не регистрируется через публичный API.
	if _, err := ParseRegistrationRole(string(model.RoleAdmin)); err == nil {
		t.Errorf("ADMIN self-registration must be rejected")
	}
}

func TestValidatorTags(t *testing.T) {
	v := New()

	type req struct {
		Price    float64 `validate:"required,gt=0"`
		Currency string  `validate:"required,iso4217"`
		Rating   int     `validate:"required,min=1,max=5"`
	}

	if err := v.Struct(req{Price: 49.99, Currency: "USD", Rating: 5}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	if err := v.Struct(req{Price: -1, Currency: "USD", Rating: 3}); err == nil {
		t.Fatalf("non-positive price must be rejected")
	}

	if err := v.Struct(req{Price: 10, Currency: "DOLLARS", Rating: 3}); err == nil {
		t.Fatalf("malformed currency must be rejected")
	}

	if err := v.Struct(req{Price: 10, Currency: "USD", Rating: 6}); err == nil {
		t.Fatalf("rating above 5 must be rejected")
	}
}
