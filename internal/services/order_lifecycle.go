package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned, domain.OrderStatusRefunded},
}

var cancellableStatuses = []OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
}

// CanTransition reports whether the lifecycle permits moving from current to target. Staying in
// the same status is always permitted.
func CanTransition(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStateTransitions[current], target)
}

// NextStatuses lists the statuses reachable from current.
func NextStatuses(current OrderStatus) []OrderStatus {
	return slices.Clone(orderStateTransitions[current])
}

// IsModifiable reports whether items and details of an order in this status may be edited.
func IsModifiable(status OrderStatus) bool {
	return status == domain.OrderStatusPending
}

// IsCancellable reports whether an order in this status may be cancelled or deleted.
func IsCancellable(status OrderStatus) bool {
	return slices.Contains(cancellableStatuses, status)
}

// applyStatusTransition moves the order to target, stamping shipment dates and appending notes.
// It returns the previous status and whether the status actually changed.
func applyStatusTransition(order *Order, target OrderStatus, notes string, now time.Time) (OrderStatus, bool, error) {
	current := order.Status
	if !target.Valid() {
		return current, false, fmt.Errorf("%w: unknown status %q", ErrOrderValidation, target)
	}
	if !CanTransition(current, target) {
		return current, false, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current, target)
	}

	order.Notes = appendNote(order.Notes, notes)
	order.UpdatedAt = now
	if current == target {
		return current, false, nil
	}

	order.Status = target
	stampStatusDates(order, target, now)
	return current, true, nil
}

func stampStatusDates(order *Order, status OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusShipped:
		order.ShippedDate = &now
	case domain.OrderStatusDelivered:
		if order.ShippedDate == nil {
			shipped := now
			order.ShippedDate = &shipped
		}
		order.DeliveredDate = &now
	}
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return existing + "\n" + note
}
