package services

import (
	"errors"
	"fmt"

	domain "github.com/hanko-field/orders/internal/domain"
)

const basisPointsDenominator int64 = 10000

// ErrPricingPolicyInvalid signals a policy with negative rates or fees.
var ErrPricingPolicyInvalid = errors.New("pricing: invalid policy")

// PricingEngine computes order totals from a fixed policy. It holds no mutable state and is safe
// for concurrent use.
type PricingEngine struct {
	policy PricingPolicy
}

// NewPricingEngine validates the policy and returns an engine bound to it.
func NewPricingEngine(policy PricingPolicy) (*PricingEngine, error) {
	if err := ValidatePricingPolicy(policy); err != nil {
		return nil, err
	}
	return &PricingEngine{policy: policy}, nil
}

// ValidatePricingPolicy rejects negative tax rates, thresholds and fees.
func ValidatePricingPolicy(policy PricingPolicy) error {
	switch {
	case policy.TaxRateBasisPoints < 0:
		return fmt.Errorf("%w: tax rate must not be negative", ErrPricingPolicyInvalid)
	case policy.FreeShippingThreshold < 0:
		return fmt.Errorf("%w: free shipping threshold must not be negative", ErrPricingPolicyInvalid)
	case policy.FlatShippingFee < 0:
		return fmt.Errorf("%w: flat shipping fee must not be negative", ErrPricingPolicyInvalid)
	}
	return nil
}

// Policy returns the policy the engine was built with.
func (e *PricingEngine) Policy() PricingPolicy {
	return e.policy
}

// Quote prices a proposed order from its lines and order-level discount.
func (e *PricingEngine) Quote(lines []PriceLine, discount int64) OrderTotals {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}
	return e.totals(subtotal, discount)
}

// Recalculate derives totals from persisted items (net of item discounts) and writes TotalAmount
// and TaxAmount back onto the order. Applying it twice yields the same order.
func (e *PricingEngine) Recalculate(order Order, items []OrderItem) (Order, OrderTotals) {
	var subtotal int64
	for _, item := range items {
		subtotal += item.TotalPrice()
	}
	totals := e.totals(subtotal, order.DiscountAmount)
	order.TotalAmount = totals.Total
	order.TaxAmount = totals.Tax
	return order, totals
}

func (e *PricingEngine) totals(subtotal, discount int64) OrderTotals {
	if discount < 0 {
		discount = 0
	}
	totals := OrderTotals{
		Subtotal: subtotal,
		Tax:      roundHalfUpBasisPoints(subtotal, e.policy.TaxRateBasisPoints),
		Discount: discount,
		Shipping: e.shipping(subtotal),
	}
	totals.Total = totals.Subtotal + totals.Tax - totals.Discount + totals.Shipping
	if totals.Total < 0 {
		totals.Total = 0
	}
	return totals
}

func (e *PricingEngine) shipping(subtotal int64) int64 {
	if subtotal >= e.policy.FreeShippingThreshold {
		return 0
	}
	return e.policy.FlatShippingFee
}

func roundHalfUpBasisPoints(amount, basisPoints int64) int64 {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	return (amount*basisPoints + basisPointsDenominator/2) / basisPointsDenominator
}

// DefaultPricingEngine is bound to domain.DefaultPricingPolicy.
func DefaultPricingEngine() *PricingEngine {
	return &PricingEngine{policy: domain.DefaultPricingPolicy()}
}
