package statemachine

import (
	"errors"
	"strings"
	"testing"

	"github.com/boosthub/boosthub-system/internal/model"
)

var allStatuses = []model.OrderStatus{
	model.OrderStatusPending,
	model.OrderStatusPaid,
	model.OrderStatusAssigned,
	model.OrderStatusInProgress,
	model.OrderStatusCompleted,
	model.OrderStatusCancelled,
}

func TestCanTransition_FullTable(t *testing.T) {
	sm := New()

	allowed := map[model.OrderStatus]map[model.OrderStatus]bool{
		model.OrderStatusPending:    {model.OrderStatusPaid: true, model.OrderStatusCancelled: true},
		model.OrderStatusPaid:       {model.OrderStatusAssigned: true, model.OrderStatusCancelled: true},
		model.OrderStatusAssigned:   {model.OrderStatusInProgress: true, model.OrderStatusCancelled: true},
		model.OrderStatusInProgress: {model.OrderStatusCompleted: true},
		model.OrderStatusCompleted:  {},
		model.OrderStatusCancelled:  {},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			got := sm.CanTransition(from, to)
			want := allowed[from][to]
			if got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCheck_NamesBothStatuses(t *testing.T) {
	sm := New()

	err := sm.Check(model.OrderStatusCompleted, model.OrderStatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if !strings.Contains(err.Error(), string(model.OrderStatusCompleted)) ||
		!strings.Contains(err.Error(), string(model.OrderStatusCancelled)) {
		t.Fatalf("error must name both statuses, got %q", err.Error())
	}
}

func TestCheck_AllowedTransition(t *testing.T) {
	sm := New()

	if err := sm.Check(model.OrderStatusPending, model.OrderStatusPaid); err != nil {
		t.Fatalf("Check(PENDING, PAID) = %v, want nil", err)
	}
}

func TestIsTerminal(t *testing.T) {
	sm := New()

	for _, s := range allStatuses {
		terminal := s == model.OrderStatusCompleted || s == model.OrderStatusCancelled
		if sm.IsTerminal(s) != terminal {
			t.Errorf("IsTerminal(%s) = %v, want %v", s, sm.IsTerminal(s), terminal)
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	sm := New()

	if sm.CanTransition("UNKNOWN", model.OrderStatusPaid) {
		t.Fatalf("transition from unknown status must be denied")
	}
}

func TestAllowedFrom_ReturnsCopy(t *testing.T) {
	sm := New()

	first := sm.AllowedFrom(model.OrderStatusPending)
	if len(first) != 2 {
		t.Fatalf("AllowedFrom(PENDING) = %v, want 2 statuses", first)
	}

	first[0] = model.OrderStatusCompleted

	second := sm.AllowedFrom(model.OrderStatusPending)
	if second[0] != model.OrderStatusPaid {
		t.Fatalf("mutating the returned slice must not affect the table")
	}
}
