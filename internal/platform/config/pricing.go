package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/orders/internal/domain"
)

type pricingPolicyFile struct {
	Pricing *domain.PricingPolicy `yaml:"pricing"`
}

// LoadPricingPolicy reads a YAML pricing policy. An empty path yields the default policy; keys
// absent from the file keep their default values.
//
//	pricing:
//	  taxRateBasisPoints: 1000
//	  freeShippingThreshold: 10000
//	  flatShippingFee: 1500
func LoadPricingPolicy(path string) (domain.PricingPolicy, error) {
	policy := domain.DefaultPricingPolicy()
	path = strings.TrimSpace(path)
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PricingPolicy{}, fmt.Errorf("config: read pricing policy %s: %w", path, err)
	}

	doc := pricingPolicyFile{Pricing: &policy}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.PricingPolicy{}, fmt.Errorf("config: parse pricing policy %s: %w", path, err)
	}
	if doc.Pricing == nil {
		return domain.PricingPolicy{}, fmt.Errorf("config: pricing policy %s: %w", path, errMissingPricingSection)
	}
	return *doc.Pricing, nil
}

var errMissingPricingSection = errors.New("missing pricing section")
