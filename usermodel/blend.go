package usermodel

import (
	"math/rand"
	"sync"

	"github.com/stylora/retrieval/core"
)

// BlendContext names the request surface a query embedding is built for.
// The context chooses how much the long-term profile outweighs the
// session.
type BlendContext string

const (
	ContextFeed    BlendContext = "feed"
	ContextSearch  BlendContext = "search"
	ContextSimilar BlendContext = "similar"
	ContextExplore BlendContext = "explore"
	ContextOnboard BlendContext = "onboard"
)

// contextAlphas is the long-term weight per surface. Search leans on the
// session (the user wants something specific right now); similar leans
// on established taste; onboarding has nothing but the quiz profile.
var contextAlphas = map[BlendContext]float64{
	ContextFeed:    0.7,
	ContextSearch:  0.3,
	ContextSimilar: 0.9,
	ContextExplore: 0.5,
	ContextOnboard: 1.0,
}

// BlendType reports which inputs actually shaped the result.
type BlendType string

const (
	BlendFull         BlendType = "full"
	BlendLongTermOnly BlendType = "long_term_only"
	BlendSessionOnly  BlendType = "session_only"
)

// BlendResult is a query embedding plus how it was produced.
type BlendResult struct {
	Vector []float32
	Type   BlendType
	Alpha  float64
}

const (
	// DefaultLongTermAlpha applies when the context is unknown.
	DefaultLongTermAlpha = 0.7

	// DefaultExplorationEpsilon scales the Gaussian noise added for
	// diversity.
	DefaultExplorationEpsilon = 0.1
)

// Blender combines long-term taste and session intent into a single
// query embedding: q = alpha*longTerm + (1-alpha)*session, renormalized.
type Blender struct {
	defaultAlpha float64
	epsilon      float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBlender creates a blender with the production parameters.
func NewBlender(seed int64) *Blender {
	return &Blender{
		defaultAlpha: DefaultLongTermAlpha,
		epsilon:      DefaultExplorationEpsilon,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// AlphaFor returns the long-term weight for a context.
func (b *Blender) AlphaFor(context BlendContext) float64 {
	if a, ok := contextAlphas[context]; ok {
		return a
	}
	return b.defaultAlpha
}

// Blend produces the query embedding for a context. When only one input
// exists it passes through untouched and the blend type says which.
// With neither input the caller has no profile at all and gets
// ErrNoUserProfile.
func (b *Blender) Blend(longTerm, session []float32, context BlendContext) (BlendResult, error) {
	alpha := b.AlphaFor(context)
	return b.BlendAlpha(longTerm, session, alpha)
}

// BlendAlpha is Blend with an explicit long-term weight.
func (b *Blender) BlendAlpha(longTerm, session []float32, alpha float64) (BlendResult, error) {
	switch {
	case longTerm != nil && session != nil:
		if len(longTerm) != len(session) {
			return BlendResult{}, core.NewDimensionError(len(longTerm), len(session))
		}
		a := float32(alpha)
		vec := make([]float32, len(longTerm))
		for i := range vec {
			vec[i] = a*longTerm[i] + (1-a)*session[i]
		}
		core.NormalizeInPlace(vec)
		return BlendResult{Vector: vec, Type: BlendFull, Alpha: alpha}, nil

	case longTerm != nil:
		return BlendResult{Vector: longTerm, Type: BlendLongTermOnly, Alpha: alpha}, nil

	case session != nil:
		return BlendResult{Vector: session, Type: BlendSessionOnly, Alpha: alpha}, nil

	default:
		return BlendResult{}, core.ErrNoUserProfile
	}
}

// AddExploration perturbs an embedding with Gaussian noise and
// renormalizes, trading a little relevance for diversity.
func (b *Blender) AddExploration(vec []float32) []float32 {
	out := make([]float32, len(vec))

	b.mu.Lock()
	for i, v := range vec {
		out[i] = v + float32(b.rng.NormFloat64()*b.epsilon)
	}
	b.mu.Unlock()

	core.NormalizeInPlace(out)
	return out
}
