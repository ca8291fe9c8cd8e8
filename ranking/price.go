package ranking

import "math"

// neutralScore is used whenever a signal has no data to speak from.
const neutralScore = 0.5

// PriceProfile summarizes a user's historical spending.
type PriceProfile struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// IsZero reports whether the profile carries no price history.
func (p PriceProfile) IsZero() bool { return p.Mean == 0 }

// PriceAffinityScorer scores how well an item's price matches a user's
// typical spending.
type PriceAffinityScorer struct {
	cfg Config
}

// NewPriceAffinityScorer creates a scorer with the given parameters.
func NewPriceAffinityScorer(cfg Config) *PriceAffinityScorer {
	return &PriceAffinityScorer{cfg: cfg}
}

// BuildProfile derives a price profile from purchase history, falling
// back to viewed prices when the user never bought anything. With no data
// at all the zero profile is returned and scoring goes neutral.
func (s *PriceAffinityScorer) BuildProfile(purchasePrices, viewPrices []float64) PriceProfile {
	prices := purchasePrices
	if len(prices) == 0 {
		prices = viewPrices
	}
	if len(prices) == 0 {
		return PriceProfile{Max: math.Inf(1)}
	}

	sum := 0.0
	min, max := prices[0], prices[0]
	for _, p := range prices {
		sum += p
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	mean := sum / float64(len(prices))

	variance := 0.0
	for _, p := range prices {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(prices))

	return PriceProfile{Mean: mean, Std: math.Sqrt(variance), Min: min, Max: max}
}

// ScoreItem maps an item price to [0, 1]: full score within the relative
// tolerance of the user's mean, zero at twice the tolerance, linear in
// between. Neutral with no price history.
func (s *PriceAffinityScorer) ScoreItem(price float64, profile PriceProfile) float64 {
	if profile.IsZero() {
		return neutralScore
	}

	diff := math.Abs(price-profile.Mean) / profile.Mean
	tol := s.cfg.PriceTolerance

	switch {
	case diff <= tol:
		return 1.0
	case diff >= 2*tol:
		return 0.0
	default:
		return 1.0 - (diff-tol)/tol
	}
}

// ScoreBatch scores multiple items against one profile.
func (s *PriceAffinityScorer) ScoreBatch(prices map[string]float64, profile PriceProfile) map[string]float64 {
	scores := make(map[string]float64, len(prices))
	for id, price := range prices {
		scores[id] = s.ScoreItem(price, profile)
	}
	return scores
}
