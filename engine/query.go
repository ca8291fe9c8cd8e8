package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/ranking"
	"github.com/stylora/retrieval/search"
	"github.com/stylora/retrieval/usermodel"
)

// userQueryVector builds the query embedding for a user and context from
// the long-term profile and live session. Returns ErrNoUserProfile when
// neither exists.
func (e *Engine) userQueryVector(ctx context.Context, userID string, blendCtx usermodel.BlendContext) ([]float32, *BlendInfo, error) {
	if userID == "" {
		return nil, nil, core.ErrNoUserProfile
	}

	longTerm := e.loadLongTerm(ctx, userID)

	sessionVec, ok := e.sessions.Embedding(userID)
	if !ok && e.cache != nil {
		// A restart empties the in-memory tracker; the cached session
		// embedding survives until its TTL.
		if cached, cerr := e.cache.GetUserSession(ctx, userID); cerr == nil {
			sessionVec = cached
		}
	}

	res, err := e.blender.Blend(longTerm, sessionVec, blendCtx)
	if err != nil {
		return nil, nil, err
	}
	blendsTotal.WithLabelValues(string(res.Type)).Inc()
	return res.Vector, &BlendInfo{Type: res.Type, Alpha: res.Alpha}, nil
}

// loadLongTerm resolves the user's long-term embedding, cache first, then
// the interaction store. Absence and store failures both come back nil.
func (e *Engine) loadLongTerm(ctx context.Context, userID string) []float32 {
	if e.cache != nil {
		if vec, err := e.cache.GetUserLongTerm(ctx, userID); err == nil {
			profileCacheLookups.WithLabelValues("hit").Inc()
			return vec
		}
		profileCacheLookups.WithLabelValues("miss").Inc()
	}

	state, err := e.interactions.LoadUserEmbedding(ctx, userID)
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("long-term profile load failed")
		}
		return nil
	}
	if len(state.LongTerm) == 0 {
		return nil
	}
	if e.cache != nil {
		if cerr := e.cache.SetUserLongTerm(ctx, userID, state.LongTerm); cerr != nil {
			e.log.Warn().Err(cerr).Str("user_id", userID).Msg("long-term cache backfill failed")
		}
	}
	return state.LongTerm
}

// itemEmbedding resolves one item's embedding, cache first.
func (e *Engine) itemEmbedding(ctx context.Context, itemID string) ([]float32, error) {
	if e.cache != nil {
		if vec, err := e.cache.GetProductEmbedding(ctx, itemID); err == nil {
			return vec, nil
		}
	}

	found, err := e.interactions.FetchItemEmbeddings(ctx, []string{itemID})
	if err != nil {
		return nil, err
	}
	vec, ok := found[itemID]
	if !ok {
		return nil, core.ErrItemNotIndexed
	}
	if e.cache != nil {
		if cerr := e.cache.SetProductEmbedding(ctx, itemID, vec); cerr != nil {
			e.log.Warn().Err(cerr).Str("item_id", itemID).Msg("product cache backfill failed")
		}
	}
	return vec, nil
}

// runSearch is the shared retrieve-rank-paginate pipeline behind
// Recommend, Search, and Similar.
func (e *Engine) runSearch(ctx context.Context, query []float32, filters core.Filters, userID string, k, offset int, minSimilarity float64, exclude string, includeSignals bool) (*Page, error) {
	fetchK := (offset + k) * e.cfg.RankOversample
	if exclude != "" {
		fetchK += e.cfg.RankOversample
	}

	results, err := e.filtered.Search(ctx, query, filters, fetchK, minSimilarity, search.StrategyAuto)
	if err != nil {
		return nil, err
	}

	ranked := e.ranker.Rank(results, e.buildSignals(ctx, userID, results.ItemIDs()))
	return e.page(ranked, k, offset, exclude, includeSignals), nil
}

// buildSignals gathers the non-similarity ranking inputs for a candidate
// set. Signal fetch failures degrade to neutral scores rather than
// failing the request.
func (e *Engine) buildSignals(ctx context.Context, userID string, ids []string) ranking.Signals {
	var sig ranking.Signals
	if len(ids) == 0 {
		return sig
	}

	var (
		stats map[string]core.ItemStats
		items map[string]core.CatalogItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if stats, err = e.interactions.FetchItemStats(gctx, ids); err != nil {
			e.log.Warn().Err(err).Msg("popularity stats unavailable, scoring neutral")
			stats = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if items, err = e.catalog.FetchItems(gctx, ids); err != nil {
			e.log.Warn().Err(err).Msg("catalog fields unavailable, scoring neutral")
			items = nil
		}
		return nil
	})
	_ = g.Wait()

	if stats != nil {
		sig.Popularity = e.pop.ScoreBatch(stats)
	}
	if items == nil {
		return sig
	}

	priceProfile, brandPrefs := e.userTaste(ctx, userID)

	prices := make(map[string]float64, len(items))
	brands := make(map[string]string, len(items))
	for id, item := range items {
		prices[id] = item.Price
		brands[id] = item.BrandID
	}
	sig.PriceAffinity = e.price.ScoreBatch(prices, priceProfile)
	sig.BrandMatch = e.brand.ScoreBatch(brands, brandPrefs)
	return sig
}

// userTaste derives the price profile and brand preferences from the
// user's recent interaction history. Anonymous users and fetch failures
// yield empty profiles, which score neutral downstream.
func (e *Engine) userTaste(ctx context.Context, userID string) (ranking.PriceProfile, map[string]float64) {
	if userID == "" {
		return ranking.PriceProfile{}, nil
	}

	since := time.Now().Add(-historyLookback)
	events, err := e.interactions.FetchRecentInteractions(ctx, userID, historyLimit, since)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("interaction history unavailable")
		return ranking.PriceProfile{}, nil
	}
	if len(events) == 0 {
		return ranking.PriceProfile{}, nil
	}

	ids := make([]string, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if !seen[ev.ItemID] {
			seen[ev.ItemID] = true
			ids = append(ids, ev.ItemID)
		}
	}
	items, err := e.catalog.FetchItems(ctx, ids)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("history items unavailable")
		return ranking.PriceProfile{}, nil
	}

	var purchasePrices, viewPrices []float64
	var brandIDs []string
	var brandWeights []float64
	for _, ev := range events {
		item, ok := items[ev.ItemID]
		if !ok {
			continue
		}
		switch ev.Type {
		case core.InteractionPurchase:
			purchasePrices = append(purchasePrices, item.Price)
		case core.InteractionView, core.InteractionClick:
			viewPrices = append(viewPrices, item.Price)
		}
		weight := ev.Weight
		if weight == 0 {
			weight = ev.Type.Weight()
		}
		if weight > 0 && item.BrandID != "" {
			brandIDs = append(brandIDs, item.BrandID)
			brandWeights = append(brandWeights, weight)
		}
	}

	return e.price.BuildProfile(purchasePrices, viewPrices), e.brand.BuildPreferences(brandIDs, brandWeights)
}

// page deduplicates by item id, applies the offset window, and renumbers
// ranks to absolute positions.
func (e *Engine) page(results *core.SearchResults, k, offset int, exclude string, includeSignals bool) *Page {
	kept := make([]core.SearchResult, 0, len(results.Results))
	seen := make(map[string]bool, len(results.Results))
	for _, r := range results.Results {
		if r.ItemID == exclude || seen[r.ItemID] {
			continue
		}
		seen[r.ItemID] = true
		kept = append(kept, r)
	}

	total := len(kept)
	switch {
	case offset >= total:
		kept = nil
	case offset+k < total:
		kept = kept[offset : offset+k]
	default:
		kept = kept[offset:]
	}

	out := make([]core.SearchResult, len(kept))
	copy(out, kept)
	for i := range out {
		out[i].Rank = offset + i
		if !includeSignals {
			out[i].Signals = nil
		}
	}
	return &Page{Results: out, K: k, Offset: offset, Total: total}
}

// recommendAnonymous serves users without any profile: popularity-ranked
// hot items when view tracking has data, otherwise a random-direction
// exploration search over the index.
func (e *Engine) recommendAnonymous(ctx context.Context, req RecommendRequest, k, offset int, started time.Time) (*Page, error) {
	page, err := e.trendingPage(ctx, req.Filters, k, offset, req.IncludeSignals)
	if err != nil {
		e.log.Warn().Err(err).Msg("trending fallback failed, exploring randomly")
	}
	if page == nil || len(page.Results) == 0 {
		query := e.cold.RandomEmbedding()
		page, err = e.runSearch(ctx, query, req.Filters, "", k, offset, 0, "", req.IncludeSignals)
		if err != nil {
			requestsTotal.WithLabelValues("recommend", outcomeError).Inc()
			return nil, err
		}
	}
	page.Took = time.Since(started)

	requestsTotal.WithLabelValues("recommend", outcomeOK).Inc()
	requestDuration.WithLabelValues("recommend").Observe(page.Took.Seconds())
	e.log.Debug().Int("results", len(page.Results)).Msg("anonymous recommendations served")
	return page, nil
}

// trendingPage ranks the hottest tracked items by popularity. Returns an
// empty page when view tracking has nothing yet.
func (e *Engine) trendingPage(ctx context.Context, filters core.Filters, k, offset int, includeSignals bool) (*Page, error) {
	if e.cache == nil {
		return nil, nil
	}
	ids, err := e.cache.HotItems(ctx, e.cfg.TrendingLimit)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	items, err := e.catalog.FetchItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		item, ok := items[id]
		if !ok {
			continue
		}
		if filters.IsZero() || filters.Matches(item) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return &Page{K: k, Offset: offset}, nil
	}

	stats, err := e.interactions.FetchItemStats(ctx, candidates)
	if err != nil {
		return nil, err
	}
	scores := e.pop.ScoreBatch(stats)

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := scores[candidates[i]], scores[candidates[j]]
		if si != sj {
			return si > sj
		}
		return candidates[i] < candidates[j]
	})

	results := &core.SearchResults{
		Results:    make([]core.SearchResult, len(candidates)),
		K:          k,
		TotalFound: len(candidates),
	}
	for i, id := range candidates {
		results.Results[i] = core.SearchResult{
			ItemID: id,
			Rank:   i,
			Signals: &core.SignalBreakdown{
				FinalScore: scores[id],
				Popularity: scores[id],
			},
		}
	}
	return e.page(results, k, offset, "", includeSignals), nil
}
