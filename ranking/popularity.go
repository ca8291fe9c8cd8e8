package ranking

import (
	"math"
	"time"

	"github.com/stylora/retrieval/core"
)

// recencyFloor keeps long-dormant items from scoring exactly zero.
const recencyFloor = 0.01

// PopularityScorer turns engagement counters into popularity scores.
type PopularityScorer struct {
	cfg Config
	now func() time.Time
}

// NewPopularityScorer creates a scorer with the given parameters.
func NewPopularityScorer(cfg Config) *PopularityScorer {
	return &PopularityScorer{cfg: cfg, now: time.Now}
}

// ScoreItem computes the raw (unnormalized) engagement score of one item:
// weighted event counts times an exponential recency decay.
func (s *PopularityScorer) ScoreItem(stats core.ItemStats) float64 {
	engagement := float64(stats.Views)*s.cfg.ViewWeight +
		float64(stats.Likes)*s.cfg.LikeWeight +
		float64(stats.Carts)*s.cfg.CartWeight +
		float64(stats.Purchases)*s.cfg.PurchaseWeight

	if stats.LastInteraction != nil {
		engagement *= s.recency(*stats.LastInteraction)
	}
	return engagement
}

// ScoreBatch scores a set of items and max-normalizes the result to
// [0, 1]. Normalization is relative to the batch, so scores from
// different batches are not comparable.
func (s *PopularityScorer) ScoreBatch(stats map[string]core.ItemStats) map[string]float64 {
	scores := make(map[string]float64, len(stats))
	maxScore := 0.0
	for id, st := range stats {
		score := s.ScoreItem(st)
		scores[id] = score
		if score > maxScore {
			maxScore = score
		}
	}

	if maxScore > 0 {
		for id := range scores {
			scores[id] /= maxScore
		}
	}
	return scores
}

// recency returns 0.5^(days/halfLife), floored at recencyFloor.
func (s *PopularityScorer) recency(last time.Time) float64 {
	days := s.now().Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := math.Pow(0.5, days/float64(s.cfg.PopularityHalfLifeDays))
	return math.Max(recencyFloor, decay)
}
