package domain

const (
	// DefaultTaxRateBasisPoints is a flat 10% tax.
	DefaultTaxRateBasisPoints int64 = 1000
	// DefaultFreeShippingThreshold is 100.00 in minor units.
	DefaultFreeShippingThreshold int64 = 10000
	// DefaultFlatShippingFee is 15.00 in minor units.
	DefaultFlatShippingFee int64 = 1500
)

// PricingPolicy parameterises order pricing. Amounts are minor units.
type PricingPolicy struct {
	TaxRateBasisPoints    int64 `yaml:"taxRateBasisPoints"`
	FreeShippingThreshold int64 `yaml:"freeShippingThreshold"`
	FlatShippingFee       int64 `yaml:"flatShippingFee"`
}

// DefaultPricingPolicy returns the standard storefront policy.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRateBasisPoints:    DefaultTaxRateBasisPoints,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		FlatShippingFee:       DefaultFlatShippingFee,
	}
}

// OrderTotals captures the monetary breakdown produced by the pricing engine.
type OrderTotals struct {
	Subtotal int64
	Tax      int64
	Discount int64
	Shipping int64
	Total    int64
}

// PriceLine is the minimal line input for quoting a proposed order.
type PriceLine struct {
	UnitPrice int64
	Quantity  int
}
