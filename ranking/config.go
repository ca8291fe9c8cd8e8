package ranking

import "fmt"

const weightSumEpsilon = 1e-6

// Config holds signal weights and scoring parameters. Weights must sum to
// 1.0 so final scores stay in [0, 1].
type Config struct {
	SimilarityWeight    float64 `json:"similarity_weight" yaml:"similarity_weight"`
	PopularityWeight    float64 `json:"popularity_weight" yaml:"popularity_weight"`
	PriceAffinityWeight float64 `json:"price_affinity_weight" yaml:"price_affinity_weight"`
	BrandMatchWeight    float64 `json:"brand_match_weight" yaml:"brand_match_weight"`

	// Engagement weights feeding the popularity score.
	ViewWeight     float64 `json:"view_weight" yaml:"view_weight"`
	LikeWeight     float64 `json:"like_weight" yaml:"like_weight"`
	CartWeight     float64 `json:"cart_weight" yaml:"cart_weight"`
	PurchaseWeight float64 `json:"purchase_weight" yaml:"purchase_weight"`

	// PopularityHalfLifeDays controls the exponential recency decay.
	PopularityHalfLifeDays int `json:"popularity_half_life_days" yaml:"popularity_half_life_days"`

	// PriceTolerance is the relative deviation from the user's typical
	// price that still scores 1.0.
	PriceTolerance float64 `json:"price_tolerance" yaml:"price_tolerance"`
}

// DefaultConfig returns the production weights.
func DefaultConfig() Config {
	return Config{
		SimilarityWeight:       0.6,
		PopularityWeight:       0.25,
		PriceAffinityWeight:    0.1,
		BrandMatchWeight:       0.05,
		ViewWeight:             1.0,
		LikeWeight:             2.0,
		CartWeight:             3.0,
		PurchaseWeight:         5.0,
		PopularityHalfLifeDays: 30,
		PriceTolerance:         0.3,
	}
}

// Validate checks the weight-sum invariant and parameter ranges.
func (c Config) Validate() error {
	total := c.SimilarityWeight + c.PopularityWeight + c.PriceAffinityWeight + c.BrandMatchWeight
	if diff := total - 1.0; diff > weightSumEpsilon || diff < -weightSumEpsilon {
		return fmt.Errorf("ranking weights must sum to 1.0, got %v", total)
	}
	if c.PopularityHalfLifeDays <= 0 {
		return fmt.Errorf("popularity half-life must be positive, got %d", c.PopularityHalfLifeDays)
	}
	if c.PriceTolerance <= 0 {
		return fmt.Errorf("price tolerance must be positive, got %v", c.PriceTolerance)
	}
	return nil
}
