// Package engine is the facade over the retrieval stack: it blends user
// embeddings into query vectors, runs filtered vector search, applies
// multi-signal ranking, and keeps user profiles and caches current as
// interactions arrive.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/cache"
	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/index"
	"github.com/stylora/retrieval/ranking"
	"github.com/stylora/retrieval/search"
	"github.com/stylora/retrieval/usermodel"
)

// ErrEmptyQuery is returned by Search when the query text is blank.
var ErrEmptyQuery = errors.New("empty query text")

const (
	// searchTextWeight is how much the encoded query text outweighs the
	// user profile in personalized text search.
	searchTextWeight = 0.7

	// historyLimit and historyLookback bound the interaction history used
	// to derive price and brand taste profiles.
	historyLimit    = 50
	historyLookback = 90 * 24 * time.Hour
)

// Config carries the engine tunables. Zero values fall back to the
// production defaults at construction.
type Config struct {
	DefaultK       int `yaml:"default_k"`
	MaxK           int `yaml:"max_k"`
	RankOversample int `yaml:"rank_oversample"` // candidate multiplier before ranking

	// MinSimilarity drops results below this similarity on the recommend
	// path. Zero keeps everything.
	MinSimilarity float64 `yaml:"min_similarity"`

	// TrendingLimit caps the hot-item pool for anonymous recommendations.
	TrendingLimit int `yaml:"trending_limit"`

	Seed int64 `yaml:"seed"` // exploration and cold-start randomness

	EWMAAlpha      float64       `yaml:"ewma_alpha"`
	SessionWindow  int           `yaml:"session_window"`
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// MaintenanceInterval paces the background loop: timed index rebuilds
	// and session expiry sweeps.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	Ranking ranking.Config `yaml:"ranking"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultK:            20,
		MaxK:                200,
		RankOversample:      2,
		TrendingLimit:       100,
		Seed:                time.Now().UnixNano(),
		EWMAAlpha:           usermodel.DefaultAlpha,
		SessionWindow:       usermodel.DefaultSessionWindow,
		SessionTimeout:      usermodel.DefaultSessionTimeout,
		MaintenanceInterval: time.Minute,
		Ranking:             ranking.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DefaultK <= 0 {
		c.DefaultK = def.DefaultK
	}
	if c.MaxK <= 0 {
		c.MaxK = def.MaxK
	}
	if c.RankOversample <= 0 {
		c.RankOversample = def.RankOversample
	}
	if c.TrendingLimit <= 0 {
		c.TrendingLimit = def.TrendingLimit
	}
	if c.Seed == 0 {
		c.Seed = def.Seed
	}
	if c.EWMAAlpha == 0 {
		c.EWMAAlpha = def.EWMAAlpha
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
	if c.Ranking == (ranking.Config{}) {
		c.Ranking = def.Ranking
	}
}

// Deps are the external collaborators the engine is wired with. Cache is
// optional; everything else is required.
type Deps struct {
	Catalog      core.CatalogSource
	Interactions core.InteractionStore
	Encoder      core.Encoder
	Index        *index.Manager
	Cache        *cache.EmbeddingCache
}

func (d Deps) validate() error {
	switch {
	case d.Catalog == nil:
		return errors.New("engine: catalog source is required")
	case d.Interactions == nil:
		return errors.New("engine: interaction store is required")
	case d.Encoder == nil:
		return errors.New("engine: encoder is required")
	case d.Index == nil:
		return errors.New("engine: index manager is required")
	}
	return nil
}

// Engine coordinates index, search, ranking, user modeling, and cache.
// All methods are safe for concurrent use.
type Engine struct {
	cfg Config
	log zerolog.Logger

	catalog      core.CatalogSource
	interactions core.InteractionStore
	appender     core.InteractionAppender
	encoder      core.Encoder
	index        *index.Manager
	cache        *cache.EmbeddingCache

	filtered *search.FilteredSearcher
	ranker   *ranking.Ranker
	pop      *ranking.PopularityScorer
	price    *ranking.PriceAffinityScorer
	brand    *ranking.BrandMatchScorer

	profiles *usermodel.ProfileBuilder
	sessions *usermodel.SessionTracker
	blender  *usermodel.Blender
	cold     *usermodel.ColdStart
}

// New wires an engine from its collaborators. Config zero values take the
// production defaults; the ranking weights are validated here.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	ranker, err := ranking.NewRanker(cfg.Ranking, log)
	if err != nil {
		return nil, err
	}
	warm, err := usermodel.NewWarmUpdater(cfg.EWMAAlpha)
	if err != nil {
		return nil, err
	}

	cold := usermodel.NewColdStart(deps.Encoder.Dimension(), cfg.Seed)
	e := &Engine{
		cfg:          cfg,
		log:          log.With().Str("component", "engine").Logger(),
		catalog:      deps.Catalog,
		interactions: deps.Interactions,
		encoder:      deps.Encoder,
		index:        deps.Index,
		cache:        deps.Cache,
		filtered:     search.NewFilteredSearcher(deps.Catalog, deps.Index, log),
		ranker:       ranker,
		pop:          ranking.NewPopularityScorer(cfg.Ranking),
		price:        ranking.NewPriceAffinityScorer(cfg.Ranking),
		brand:        ranking.NewBrandMatchScorer(),
		profiles:     usermodel.NewProfileBuilder(deps.Interactions, warm, cold, log),
		sessions:     usermodel.NewSessionTracker(cfg.SessionWindow, cfg.SessionTimeout, log),
		blender:      usermodel.NewBlender(cfg.Seed),
		cold:         cold,
	}
	// Stores owning the event log also receive every recorded event.
	e.appender, _ = deps.Interactions.(core.InteractionAppender)
	return e, nil
}

// BlendInfo reports how a query embedding was produced.
type BlendInfo struct {
	Type  usermodel.BlendType `json:"type"`
	Alpha float64             `json:"alpha"`
}

// Page is one page of ranked results.
type Page struct {
	Results []core.SearchResult `json:"results"`
	K       int                 `json:"k"`
	Offset  int                 `json:"offset"`
	Total   int                 `json:"total"` // results available before pagination
	Blend   *BlendInfo          `json:"blend,omitempty"`
	Took    time.Duration       `json:"took"`
}

// RecommendRequest asks for a personalized feed page.
type RecommendRequest struct {
	UserID         string
	Context        usermodel.BlendContext
	Filters        core.Filters
	K              int
	Offset         int
	Explore        bool // add exploration noise regardless of context
	IncludeSignals bool
}

// SearchRequest asks for text search, personalized when UserID is set.
type SearchRequest struct {
	Query          string
	UserID         string
	Filters        core.Filters
	K              int
	Offset         int
	MinSimilarity  float64
	IncludeSignals bool
}

// SimilarRequest asks for items similar to an anchor item, nudged toward
// the user's taste when UserID is set.
type SimilarRequest struct {
	ItemID         string
	UserID         string
	Filters        core.Filters
	K              int
	ExcludeSelf    bool
	IncludeSignals bool
}

// Recommend produces a ranked, paginated feed for a user. Users without
// any profile fall back to the anonymous trending path.
func (e *Engine) Recommend(ctx context.Context, req RecommendRequest) (*Page, error) {
	started := time.Now()
	k, offset, err := e.pageBounds(req.K, req.Offset)
	if err != nil {
		requestsTotal.WithLabelValues("recommend", outcomeError).Inc()
		return nil, err
	}

	query, blend, err := e.userQueryVector(ctx, req.UserID, req.Context)
	if errors.Is(err, core.ErrNoUserProfile) {
		return e.recommendAnonymous(ctx, req, k, offset, started)
	}
	if err != nil {
		requestsTotal.WithLabelValues("recommend", outcomeError).Inc()
		return nil, err
	}

	if req.Explore || req.Context == usermodel.ContextExplore {
		query = e.blender.AddExploration(query)
	}

	page, err := e.runSearch(ctx, query, req.Filters, req.UserID, k, offset, e.cfg.MinSimilarity, "", req.IncludeSignals)
	if err != nil {
		requestsTotal.WithLabelValues("recommend", outcomeError).Inc()
		return nil, err
	}
	page.Blend = blend
	page.Took = time.Since(started)

	requestsTotal.WithLabelValues("recommend", outcomeOK).Inc()
	requestDuration.WithLabelValues("recommend").Observe(page.Took.Seconds())
	e.log.Debug().
		Str("user_id", req.UserID).
		Str("context", string(req.Context)).
		Int("results", len(page.Results)).
		Str("blend", string(blend.Type)).
		Msg("recommendations served")
	return page, nil
}

// Search encodes query text and searches the index, blending in the
// user's taste when a profile exists. Anonymous text search works on the
// raw query vector.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	started := time.Now()
	if req.Query == "" {
		requestsTotal.WithLabelValues("search", outcomeError).Inc()
		return nil, ErrEmptyQuery
	}
	k, offset, err := e.pageBounds(req.K, req.Offset)
	if err != nil {
		requestsTotal.WithLabelValues("search", outcomeError).Inc()
		return nil, err
	}

	encoded, err := e.encoder.Encode(ctx, req.Query)
	if err != nil {
		requestsTotal.WithLabelValues("search", outcomeError).Inc()
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	query := core.Normalize(encoded)

	var blend *BlendInfo
	if req.UserID != "" {
		userVec, _, uerr := e.userQueryVector(ctx, req.UserID, usermodel.ContextSearch)
		switch {
		case uerr == nil:
			res, berr := e.blender.BlendAlpha(query, userVec, searchTextWeight)
			if berr != nil {
				e.log.Warn().Err(berr).Str("user_id", req.UserID).Msg("query personalization skipped")
			} else {
				query = res.Vector
				blend = &BlendInfo{Type: res.Type, Alpha: res.Alpha}
			}
		case errors.Is(uerr, core.ErrNoUserProfile):
			// anonymous-grade search for a known user id
		default:
			requestsTotal.WithLabelValues("search", outcomeError).Inc()
			return nil, uerr
		}
	}

	page, err := e.runSearch(ctx, query, req.Filters, req.UserID, k, offset, req.MinSimilarity, "", req.IncludeSignals)
	if err != nil {
		requestsTotal.WithLabelValues("search", outcomeError).Inc()
		return nil, err
	}
	page.Blend = blend
	page.Took = time.Since(started)

	requestsTotal.WithLabelValues("search", outcomeOK).Inc()
	requestDuration.WithLabelValues("search").Observe(page.Took.Seconds())
	return page, nil
}

// Similar returns items close to an anchor item. With a user profile the
// query leans mostly on the anchor and slightly on the user's taste.
func (e *Engine) Similar(ctx context.Context, req SimilarRequest) (*Page, error) {
	started := time.Now()
	k, _, err := e.pageBounds(req.K, 0)
	if err != nil {
		requestsTotal.WithLabelValues("similar", outcomeError).Inc()
		return nil, err
	}

	snap, err := e.index.Active()
	if err != nil {
		requestsTotal.WithLabelValues("similar", outcomeError).Inc()
		return nil, err
	}
	query, err := snap.VectorOf(req.ItemID)
	if err != nil {
		requestsTotal.WithLabelValues("similar", outcomeError).Inc()
		return nil, err
	}

	var blend *BlendInfo
	if req.UserID != "" {
		userVec, _, uerr := e.userQueryVector(ctx, req.UserID, usermodel.ContextSimilar)
		if uerr == nil {
			res, berr := e.blender.BlendAlpha(query, userVec, e.blender.AlphaFor(usermodel.ContextSimilar))
			if berr != nil {
				e.log.Warn().Err(berr).Str("user_id", req.UserID).Msg("similar personalization skipped")
			} else {
				query = res.Vector
				blend = &BlendInfo{Type: res.Type, Alpha: res.Alpha}
			}
		} else if !errors.Is(uerr, core.ErrNoUserProfile) {
			requestsTotal.WithLabelValues("similar", outcomeError).Inc()
			return nil, uerr
		}
	}

	exclude := ""
	if req.ExcludeSelf {
		exclude = req.ItemID
	}
	page, err := e.runSearch(ctx, query, req.Filters, req.UserID, k, 0, 0, exclude, req.IncludeSignals)
	if err != nil {
		requestsTotal.WithLabelValues("similar", outcomeError).Inc()
		return nil, err
	}
	page.Blend = blend
	page.Took = time.Since(started)

	requestsTotal.WithLabelValues("similar", outcomeOK).Inc()
	requestDuration.WithLabelValues("similar").Observe(page.Took.Seconds())
	return page, nil
}

// RecordInteraction folds one event into the user's long-term profile and
// session, refreshes the cached embeddings, and tracks item heat. The
// updated profile state is returned.
func (e *Engine) RecordInteraction(ctx context.Context, event core.InteractionEvent) (core.UserEmbedding, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	itemVec, err := e.itemEmbedding(ctx, event.ItemID)
	if err != nil {
		requestsTotal.WithLabelValues("interaction", outcomeError).Inc()
		return core.UserEmbedding{}, err
	}

	if e.appender != nil {
		if err := e.appender.AppendInteraction(ctx, event); err != nil {
			requestsTotal.WithLabelValues("interaction", outcomeError).Inc()
			return core.UserEmbedding{}, fmt.Errorf("persisting interaction: %w", err)
		}
	}

	state, err := e.profiles.ApplyInteraction(ctx, event, itemVec)
	if err != nil {
		requestsTotal.WithLabelValues("interaction", outcomeError).Inc()
		return core.UserEmbedding{}, err
	}

	// Negative events repel the long-term profile but stay out of the
	// session window: short-term intent must not point at rejected items.
	weight := event.Weight
	if weight == 0 {
		weight = event.Type.Weight()
	}
	if weight > 0 {
		e.sessions.AddInteraction(event.UserID, itemVec)
	}
	activeSessions.Set(float64(e.sessions.ActiveCount()))

	if e.cache != nil {
		if len(state.LongTerm) > 0 {
			if cerr := e.cache.SetUserLongTerm(ctx, event.UserID, state.LongTerm); cerr != nil {
				e.log.Warn().Err(cerr).Str("user_id", event.UserID).Msg("long-term cache refresh failed")
			}
		}
		if sessionVec, ok := e.sessions.Embedding(event.UserID); ok {
			if cerr := e.cache.SetUserSession(ctx, event.UserID, sessionVec); cerr != nil {
				e.log.Warn().Err(cerr).Str("user_id", event.UserID).Msg("session cache refresh failed")
			}
		}
		if event.Type == core.InteractionView || event.Type == core.InteractionClick {
			e.cache.TrackItemView(ctx, event.ItemID)
		}
	}

	interactionsTotal.WithLabelValues(string(event.Type)).Inc()
	requestsTotal.WithLabelValues("interaction", outcomeOK).Inc()
	return state, nil
}

// RebuildUserProfile replays the user's recent history into a fresh
// long-term embedding and refreshes the cache.
func (e *Engine) RebuildUserProfile(ctx context.Context, userID string) (core.UserEmbedding, error) {
	state, err := e.profiles.Rebuild(ctx, userID)
	if err != nil {
		return core.UserEmbedding{}, err
	}
	if e.cache != nil && len(state.LongTerm) > 0 {
		if cerr := e.cache.SetUserLongTerm(ctx, userID, state.LongTerm); cerr != nil {
			e.log.Warn().Err(cerr).Str("user_id", userID).Msg("long-term cache refresh failed")
		}
	}
	return state, nil
}

// CompleteOnboarding seeds a user's long-term profile from style-quiz
// picks. Picks without an indexed embedding are skipped; with too few
// left the user starts from a random zero-confidence default, which
// onboarding-context blending turns into diverse first results.
func (e *Engine) CompleteOnboarding(ctx context.Context, userID string, itemIDs []string) (core.UserEmbedding, error) {
	if userID == "" {
		requestsTotal.WithLabelValues("onboarding", outcomeError).Inc()
		return core.UserEmbedding{}, errors.New("user id is required")
	}

	found, err := e.interactions.FetchItemEmbeddings(ctx, itemIDs)
	if err != nil {
		requestsTotal.WithLabelValues("onboarding", outcomeError).Inc()
		return core.UserEmbedding{}, fmt.Errorf("fetching selection embeddings: %w", err)
	}
	selections := make([][]float32, 0, len(itemIDs))
	for _, id := range itemIDs {
		if vec, ok := found[id]; ok {
			selections = append(selections, vec)
		}
	}

	vec, confidence, err := e.cold.FromSelections(selections)
	if err != nil {
		requestsTotal.WithLabelValues("onboarding", outcomeError).Inc()
		return core.UserEmbedding{}, err
	}

	state := core.UserEmbedding{
		UserID:     userID,
		LongTerm:   vec,
		Confidence: confidence,
		UpdatedAt:  time.Now().UTC(),
	}
	if confidence > 0 {
		state.InteractionCount = len(selections)
	}

	if err := e.interactions.SaveUserEmbedding(ctx, state); err != nil {
		requestsTotal.WithLabelValues("onboarding", outcomeError).Inc()
		return core.UserEmbedding{}, fmt.Errorf("saving onboarding profile: %w", err)
	}
	if e.cache != nil {
		if cerr := e.cache.SetUserLongTerm(ctx, userID, state.LongTerm); cerr != nil {
			e.log.Warn().Err(cerr).Str("user_id", userID).Msg("long-term cache refresh failed")
		}
	}

	e.log.Info().
		Str("user_id", userID).
		Int("selections", len(selections)).
		Float64("confidence", confidence).
		Msg("onboarding profile created")
	requestsTotal.WithLabelValues("onboarding", outcomeOK).Inc()
	return state, nil
}

// RebuildIndex rebuilds the active snapshot from the catalog. The
// embedding kind is fixed at manager construction.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if err := e.index.Rebuild(ctx); err != nil {
		rebuildsTotal.WithLabelValues(outcomeError).Inc()
		return err
	}
	rebuildsTotal.WithLabelValues(outcomeOK).Inc()
	indexedItems.Set(float64(e.index.Stats().Count))
	return nil
}

// ClearCache drops cached embeddings by scope: "products", "users", or
// "all". Returns the number of keys removed.
func (e *Engine) ClearCache(ctx context.Context, scope string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	switch scope {
	case "products":
		return e.cache.ClearProducts(ctx)
	case "users":
		return e.cache.ClearUsers(ctx)
	case "all":
		np, err := e.cache.ClearProducts(ctx)
		if err != nil {
			return np, err
		}
		nu, err := e.cache.ClearUsers(ctx)
		return np + nu, err
	default:
		return 0, fmt.Errorf("unknown cache scope %q", scope)
	}
}

// InvalidateUser drops a user's cached embeddings, typically after an
// account-level change.
func (e *Engine) InvalidateUser(ctx context.Context, userID string) error {
	e.sessions.Clear(userID)
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateUser(ctx, userID)
}

// WarmCache preloads embeddings for the hottest items into the cache.
func (e *Engine) WarmCache(ctx context.Context, topN int) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.WarmHotItems(ctx, topN, e.interactions.FetchItemEmbeddings)
}

// Stats is the operational view of the engine.
type Stats struct {
	Index          index.Stats `json:"index"`
	ActiveSessions int         `json:"active_sessions"`
}

// Stats reports index and session state.
func (e *Engine) Stats() Stats {
	st := Stats{
		Index:          e.index.Stats(),
		ActiveSessions: e.sessions.ActiveCount(),
	}
	indexedItems.Set(float64(st.Index.Count))
	activeSessions.Set(float64(st.ActiveSessions))
	return st
}

// Run loads the index and then drives periodic maintenance (timed
// rebuilds, session expiry) until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.index.EnsureLoaded(ctx); err != nil {
		return err
	}
	indexedItems.Set(float64(e.index.Stats().Count))

	ticker := time.NewTicker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			rebuilt, err := e.index.RebuildIfNeeded(ctx, now)
			switch {
			case err != nil:
				rebuildsTotal.WithLabelValues(outcomeError).Inc()
				e.log.Error().Err(err).Msg("scheduled index rebuild failed")
			case rebuilt:
				rebuildsTotal.WithLabelValues(outcomeOK).Inc()
				indexedItems.Set(float64(e.index.Stats().Count))
			}
			if expired := e.sessions.CleanupExpired(); expired > 0 {
				e.log.Debug().Int("expired", expired).Msg("sessions expired")
			}
			activeSessions.Set(float64(e.sessions.ActiveCount()))
		}
	}
}

func (e *Engine) pageBounds(k, offset int) (int, int, error) {
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	if k > e.cfg.MaxK {
		k = e.cfg.MaxK
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("negative offset %d", offset)
	}
	return k, offset, nil
}
