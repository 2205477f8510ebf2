package enums

// The transition tables below are the single source of truth for order
// lifecycle movement. Services ask CanTransition* once and never re-validate
// at call sites. Both graphs are forward-only: no edge ever leads back to an
// earlier logical state.

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:      {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:          {OrderStatusOutForDelivery, OrderStatusDelivered},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:      {OrderStatusCompleted, OrderStatusReturned, OrderStatusRefunded},
	OrderStatusReturned:       {OrderStatusRefunded},
	OrderStatusCancelled:      {},
	OrderStatusRefunded:       {},
	OrderStatusCompleted:      {},
}

// Recovery edges from failed/abandoned are deliberate: a genuine late callback
// must be able to settle an attempt the provider first reported as failed.
// No edge leads back to pending, which keeps payment status monotonic.
var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusPaid, PaymentStatusPartial, PaymentStatusFailed, PaymentStatusAbandoned},
	PaymentStatusPartial:   {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusAbandoned, PaymentStatusRefunded},
	PaymentStatusFailed:    {PaymentStatusPaid, PaymentStatusPartial, PaymentStatusAbandoned},
	PaymentStatusAbandoned: {PaymentStatusPaid, PaymentStatusPartial},
	PaymentStatusPaid:      {PaymentStatusRefunded},
	PaymentStatusRefunded:  {},
}

// confirmedPredecessors is the only set of statuses from which payment
// settlement may promote the order to confirmed.
var confirmedPredecessors = map[OrderStatus]bool{
	OrderStatusPending: true,
}

// CanTransitionOrderStatus reports whether the order status graph allows
// moving from current to target. Self-transitions are not edges.
func CanTransitionOrderStatus(current, target OrderStatus) bool {
	for _, next := range orderStatusTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// CanTransitionPaymentStatus reports whether the payment status graph allows
// moving from current to target.
func CanTransitionPaymentStatus(current, target PaymentStatus) bool {
	for _, next := range paymentStatusTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// CanConfirmFrom reports whether settlement may advance the order status to
// confirmed from the given status.
func CanConfirmFrom(current OrderStatus) bool {
	return confirmedPredecessors[current]
}

// IsTerminalOrderStatus reports whether no outbound edges remain.
func IsTerminalOrderStatus(status OrderStatus) bool {
	return len(orderStatusTransitions[status]) == 0
}

// IsTerminalPaymentStatus reports whether no outbound edges remain.
func IsTerminalPaymentStatus(status PaymentStatus) bool {
	return len(paymentStatusTransitions[status]) == 0
}
