package ranking

// BrandMatchScorer scores items by the user's historical brand affinity.
type BrandMatchScorer struct{}

// NewBrandMatchScorer creates a brand scorer.
func NewBrandMatchScorer() *BrandMatchScorer {
	return &BrandMatchScorer{}
}

// BuildPreferences turns a user's brand interaction history into
// per-brand scores in [0, 1], max-normalized over weighted counts.
// weights may be nil, in which case every interaction counts 1.
func (s *BrandMatchScorer) BuildPreferences(brandIDs []string, weights []float64) map[string]float64 {
	if len(brandIDs) == 0 {
		return map[string]float64{}
	}

	prefs := make(map[string]float64)
	for i, id := range brandIDs {
		w := 1.0
		if weights != nil && i < len(weights) {
			w = weights[i]
		}
		prefs[id] += w
	}

	maxScore := 0.0
	for _, score := range prefs {
		if score > maxScore {
			maxScore = score
		}
	}
	if maxScore > 0 {
		for id := range prefs {
			prefs[id] /= maxScore
		}
	}
	return prefs
}

// ScoreItem returns the preference score of an item's brand: the stored
// preference when the user has seen the brand, zero for an unknown brand,
// neutral when the user has no brand history at all.
func (s *BrandMatchScorer) ScoreItem(brandID string, prefs map[string]float64) float64 {
	if len(prefs) == 0 {
		return neutralScore
	}
	return prefs[brandID]
}

// ScoreBatch scores multiple items against one preference map.
func (s *BrandMatchScorer) ScoreBatch(brands map[string]string, prefs map[string]float64) map[string]float64 {
	scores := make(map[string]float64, len(brands))
	for itemID, brandID := range brands {
		scores[itemID] = s.ScoreItem(brandID, prefs)
	}
	return scores
}
