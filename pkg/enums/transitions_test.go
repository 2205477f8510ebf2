package enums

import "testing"

func TestPaymentStatusNeverReturnsToPending(t *testing.T) {
	for from, targets := range paymentStatusTransitions {
		for _, target := range targets {
			if target == PaymentStatusPending {
				t.Fatalf("transition %s -> pending violates monotonicity", from)
			}
		}
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPending, PaymentStatusPartial, true},
		{PaymentStatusPartial, PaymentStatusPaid, true},
		{PaymentStatusPaid, PaymentStatusPending, false},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
		{PaymentStatusFailed, PaymentStatusPaid, true},
		{PaymentStatusAbandoned, PaymentStatusFailed, false},
		{PaymentStatusPaid, PaymentStatusPaid, false},
	}
	for _, tc := range cases {
		if got := CanTransitionPaymentStatus(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected allowed=%v got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusPending, false},
		{OrderStatusDelivered, OrderStatusCompleted, true},
		{OrderStatusCompleted, OrderStatusDelivered, false},
		{OrderStatusCancelled, OrderStatusConfirmed, false},
		{OrderStatusOutForDelivery, OrderStatusDelivered, true},
	}
	for _, tc := range cases {
		if got := CanTransitionOrderStatus(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected allowed=%v got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestConfirmedPredecessors(t *testing.T) {
	if !CanConfirmFrom(OrderStatusPending) {
		t.Fatal("pending must allow promotion to confirmed")
	}
	for _, status := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusConfirmed} {
		if CanConfirmFrom(status) {
			t.Fatalf("%s must not allow promotion to confirmed", status)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusCancelled, OrderStatusRefunded, OrderStatusCompleted} {
		if !IsTerminalOrderStatus(status) {
			t.Fatalf("%s should be terminal", status)
		}
	}
	if IsTerminalOrderStatus(OrderStatusPending) {
		t.Fatal("pending should not be terminal")
	}
	if !IsTerminalPaymentStatus(PaymentStatusRefunded) {
		t.Fatal("refunded should be terminal")
	}
}

func TestParseRoundTrips(t *testing.T) {
	if _, err := ParseOrderStatus("out_for_delivery"); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := ParseOrderStatus("shipped"); err == nil {
		t.Fatal("expected error for unknown order status")
	}
	if _, err := ParsePaymentStatus("paid"); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := ParsePaymentStatus("settled"); err == nil {
		t.Fatal("expected error for unknown payment status")
	}
}
