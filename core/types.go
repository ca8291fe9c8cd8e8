package core

import (
	"time"
)

// EmbeddingKind distinguishes the embedding spaces the engine works with.
type EmbeddingKind string

const (
	EmbeddingText  EmbeddingKind = "text"
	EmbeddingImage EmbeddingKind = "image"
	EmbeddingFused EmbeddingKind = "fused"
)

// SearchResult is a single k-NN hit against the active index.
type SearchResult struct {
	ItemID     string  `json:"item_id"`
	Distance   float32 `json:"distance"`   // raw L2 distance
	Similarity float32 `json:"similarity"` // mapped to [0, 1], higher = closer
	Rank       int     `json:"rank"`       // 0-based position in the result list

	// Per-signal breakdown, populated by the ranker.
	Signals *SignalBreakdown `json:"signals,omitempty"`
}

// SignalBreakdown records how a final ranking score was composed.
type SignalBreakdown struct {
	FinalScore    float64 `json:"final_score"`
	Similarity    float64 `json:"similarity"`
	Popularity    float64 `json:"popularity"`
	PriceAffinity float64 `json:"price_affinity"`
	BrandMatch    float64 `json:"brand_match"`
}

// SearchResults is an ordered result list with query metadata.
type SearchResults struct {
	Results    []SearchResult `json:"results"`
	K          int            `json:"k"`           // requested k
	TotalFound int            `json:"total_found"` // actual result count
	SearchTime time.Duration  `json:"search_time"`
}

// ItemIDs returns the result item ids in rank order.
func (r *SearchResults) ItemIDs() []string {
	ids := make([]string, len(r.Results))
	for i, res := range r.Results {
		ids[i] = res.ItemID
	}
	return ids
}

// InteractionType is the closed set of user actions the engine learns from.
type InteractionType string

const (
	InteractionView           InteractionType = "view"
	InteractionClick          InteractionType = "click"
	InteractionLike           InteractionType = "like"
	InteractionShare          InteractionType = "share"
	InteractionRating         InteractionType = "rating"
	InteractionAddToCart      InteractionType = "add_to_cart"
	InteractionRemoveFromCart InteractionType = "remove_from_cart"
	InteractionPurchase       InteractionType = "purchase"
	InteractionThumbsUp       InteractionType = "thumbs_up"
	InteractionThumbsDown     InteractionType = "thumbs_down"
	InteractionDismiss        InteractionType = "dismiss"
	InteractionDislike        InteractionType = "dislike"
)

// interactionWeights maps each interaction type to a fixed signed weight.
// Negative weights push a profile away from the item.
var interactionWeights = map[InteractionType]float64{
	InteractionPurchase:       2.0,
	InteractionThumbsUp:       1.5,
	InteractionLike:           1.0,
	InteractionAddToCart:      0.8,
	InteractionRating:         0.7,
	InteractionShare:          0.4,
	InteractionClick:          0.3,
	InteractionView:           0.1,
	InteractionDismiss:        -0.3,
	InteractionRemoveFromCart: -0.5,
	InteractionThumbsDown:     -1.0,
	InteractionDislike:        -1.5,
}

// Weight returns the signed update weight for an interaction type.
// Unknown types carry zero weight and leave embeddings unchanged.
func (t InteractionType) Weight() float64 {
	return interactionWeights[t]
}

// InteractionEvent is the sole input to user-embedding updates.
// Events are append-only from the engine's perspective.
type InteractionEvent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ItemID    string          `json:"item_id"`
	Type      InteractionType `json:"type"`
	Weight    float64         `json:"weight"`
	Timestamp time.Time       `json:"timestamp"`
	Context   string          `json:"context,omitempty"`
}

// UserEmbedding is the durable long-term taste state for one user.
type UserEmbedding struct {
	UserID           string    `json:"user_id"`
	LongTerm         []float32 `json:"long_term,omitempty"`
	InteractionCount int       `json:"interaction_count"`
	Confidence       float64   `json:"confidence"` // in [0, 1]
	UpdatedAt        time.Time `json:"updated_at"`
}

// ItemStats carries the engagement counters behind popularity scoring.
type ItemStats struct {
	Views           int64      `json:"views"`
	Likes           int64      `json:"likes"`
	Carts           int64      `json:"carts"`
	Purchases       int64      `json:"purchases"`
	LastInteraction *time.Time `json:"last_interaction,omitempty"`
}

// Filters narrows the candidate set with catalog predicates.
// Nil / empty fields mean "no constraint".
type Filters struct {
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`

	InStockOnly bool `json:"in_stock_only,omitempty"`

	MerchantIDs        []string `json:"merchant_ids,omitempty"`
	ExcludeMerchantIDs []string `json:"exclude_merchant_ids,omitempty"`
	CategoryIDs        []string `json:"category_ids,omitempty"`
	ExcludeCategoryIDs []string `json:"exclude_category_ids,omitempty"`
	BrandIDs           []string `json:"brand_ids,omitempty"`
	ExcludeBrandIDs    []string `json:"exclude_brand_ids,omitempty"`
}

// IsZero reports whether no predicate is set.
func (f Filters) IsZero() bool {
	return f.MinPrice == nil && f.MaxPrice == nil && !f.InStockOnly &&
		len(f.MerchantIDs) == 0 && len(f.ExcludeMerchantIDs) == 0 &&
		len(f.CategoryIDs) == 0 && len(f.ExcludeCategoryIDs) == 0 &&
		len(f.BrandIDs) == 0 && len(f.ExcludeBrandIDs) == 0
}

// CatalogItem is the filter-relevant slice of an item the candidate-set
// query fetches on demand. The catalog store owns the full record.
type CatalogItem struct {
	ID         string  `json:"id"`
	Price      float64 `json:"price"`
	InStock    bool    `json:"in_stock"`
	MerchantID string  `json:"merchant_id"`
	CategoryID string  `json:"category_id"`
	BrandID    string  `json:"brand_id"`
}

// Matches applies the filter predicates to a catalog item.
func (f Filters) Matches(item CatalogItem) bool {
	if f.MinPrice != nil && item.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && item.Price > *f.MaxPrice {
		return false
	}
	if f.InStockOnly && !item.InStock {
		return false
	}
	if len(f.MerchantIDs) > 0 && !containsString(f.MerchantIDs, item.MerchantID) {
		return false
	}
	if containsString(f.ExcludeMerchantIDs, item.MerchantID) {
		return false
	}
	if len(f.CategoryIDs) > 0 && !containsString(f.CategoryIDs, item.CategoryID) {
		return false
	}
	if containsString(f.ExcludeCategoryIDs, item.CategoryID) {
		return false
	}
	if len(f.BrandIDs) > 0 && !containsString(f.BrandIDs, item.BrandID) {
		return false
	}
	if containsString(f.ExcludeBrandIDs, item.BrandID) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
