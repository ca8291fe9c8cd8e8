package ranking

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
)

// Ranker combines similarity with popularity, price affinity, and brand
// match into a final ordering. Signals missing for an item fall back to
// the neutral score so a ranked list never depends on which side tables
// happened to load.
type Ranker struct {
	cfg Config
	log zerolog.Logger

	Popularity *PopularityScorer
	Price      *PriceAffinityScorer
	Brand      *BrandMatchScorer
}

// NewRanker validates the configuration and wires the signal scorers.
func NewRanker(cfg Config, log zerolog.Logger) (*Ranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ranking config: %w", err)
	}
	return &Ranker{
		cfg:        cfg,
		log:        log.With().Str("component", "ranker").Logger(),
		Popularity: NewPopularityScorer(cfg),
		Price:      NewPriceAffinityScorer(cfg),
		Brand:      NewBrandMatchScorer(),
	}, nil
}

// Signals carries the optional per-item side scores for a rank pass. Any
// map may be nil.
type Signals struct {
	Popularity    map[string]float64
	PriceAffinity map[string]float64
	BrandMatch    map[string]float64
}

// Rank re-orders results by the weighted multi-signal score and rewrites
// ranks. The sort is stable with an item-id tiebreak, so equal scores
// order deterministically. Each result gets a SignalBreakdown attached.
func (r *Ranker) Rank(results *core.SearchResults, signals Signals) *core.SearchResults {
	if results == nil || len(results.Results) == 0 {
		return results
	}

	for i := range results.Results {
		res := &results.Results[i]

		sim := float64(res.Similarity)
		pop := signalOr(signals.Popularity, res.ItemID)
		price := signalOr(signals.PriceAffinity, res.ItemID)
		brand := signalOr(signals.BrandMatch, res.ItemID)

		final := r.cfg.SimilarityWeight*sim +
			r.cfg.PopularityWeight*pop +
			r.cfg.PriceAffinityWeight*price +
			r.cfg.BrandMatchWeight*brand

		res.Signals = &core.SignalBreakdown{
			FinalScore:    final,
			Similarity:    sim,
			Popularity:    pop,
			PriceAffinity: price,
			BrandMatch:    brand,
		}
	}

	sort.SliceStable(results.Results, func(i, j int) bool {
		si, sj := results.Results[i].Signals.FinalScore, results.Results[j].Signals.FinalScore
		if si != sj {
			return si > sj
		}
		return results.Results[i].ItemID < results.Results[j].ItemID
	})

	for i := range results.Results {
		results.Results[i].Rank = i
	}

	r.log.Debug().Int("results", len(results.Results)).Msg("re-ranked results")
	return results
}

// Explain renders a per-signal breakdown for one result.
func (r *Ranker) Explain(res core.SearchResult) string {
	if res.Signals == nil {
		return "no ranking data available"
	}
	s := res.Signals
	return fmt.Sprintf(
		"item %s (rank %d): final=%.4f similarity=%.4f*%.2f popularity=%.4f*%.2f price=%.4f*%.2f brand=%.4f*%.2f",
		res.ItemID, res.Rank+1, s.FinalScore,
		s.Similarity, r.cfg.SimilarityWeight,
		s.Popularity, r.cfg.PopularityWeight,
		s.PriceAffinity, r.cfg.PriceAffinityWeight,
		s.BrandMatch, r.cfg.BrandMatchWeight,
	)
}

func signalOr(m map[string]float64, id string) float64 {
	if m == nil {
		return neutralScore
	}
	if v, ok := m[id]; ok {
		return v
	}
	return neutralScore
}
