package usermodel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
)

const (
	// DefaultMaxInteractions bounds how much history a rebuild replays.
	DefaultMaxInteractions = 50

	// DefaultLookback bounds how far back a rebuild reaches.
	DefaultLookback = 90 * 24 * time.Hour
)

// ProfileBuilder maintains long-term user profiles against the
// interaction store: incremental EWMA updates per event and full rebuilds
// replaying recent history.
//
// Updates to the same user are serialized through a striped lock so two
// concurrent interactions cannot interleave their read-update-write
// cycles. The stripe count bounds lock memory regardless of how many
// users the process ever sees; distinct users rarely share a stripe.
type ProfileBuilder struct {
	store core.InteractionStore
	warm  *WarmUpdater
	cold  *ColdStart
	log   zerolog.Logger

	maxInteractions int
	lookback        time.Duration

	locks [lockStripes]sync.Mutex
}

const lockStripes = 64

// NewProfileBuilder wires a builder over the given store.
func NewProfileBuilder(store core.InteractionStore, warm *WarmUpdater, cold *ColdStart, log zerolog.Logger) *ProfileBuilder {
	return &ProfileBuilder{
		store:           store,
		warm:            warm,
		cold:            cold,
		log:             log.With().Str("component", "profile-builder").Logger(),
		maxInteractions: DefaultMaxInteractions,
		lookback:        DefaultLookback,
	}
}

func (b *ProfileBuilder) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &b.locks[h.Sum32()%lockStripes]
}

// ApplyInteraction folds one event into the user's long-term profile and
// persists the result. A user without a stored profile starts from the
// item embedding itself. Zero-weight events persist nothing.
func (b *ProfileBuilder) ApplyInteraction(ctx context.Context, event core.InteractionEvent, itemEmbedding []float32) (core.UserEmbedding, error) {
	weight := event.Weight
	if weight == 0 {
		weight = event.Type.Weight()
	}
	if weight == 0 {
		state, err := b.store.LoadUserEmbedding(ctx, event.UserID)
		if errors.Is(err, core.ErrCacheMiss) {
			return core.UserEmbedding{UserID: event.UserID}, nil
		}
		return state, err
	}

	lock := b.userLock(event.UserID)
	lock.Lock()
	defer lock.Unlock()

	state, err := b.store.LoadUserEmbedding(ctx, event.UserID)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrCacheMiss):
		state = core.UserEmbedding{UserID: event.UserID}
	default:
		return core.UserEmbedding{}, fmt.Errorf("loading profile for %s: %w", event.UserID, err)
	}

	if state.LongTerm == nil {
		state.LongTerm = core.Normalize(itemEmbedding)
	} else {
		updated, err := b.warm.Update(state.LongTerm, itemEmbedding, weight)
		if err != nil {
			return core.UserEmbedding{}, fmt.Errorf("updating profile for %s: %w", event.UserID, err)
		}
		state.LongTerm = updated
	}

	state.InteractionCount++
	state.Confidence = Confidence(state.InteractionCount)
	state.UpdatedAt = event.Timestamp
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	if err := b.store.SaveUserEmbedding(ctx, state); err != nil {
		return core.UserEmbedding{}, fmt.Errorf("saving profile for %s: %w", event.UserID, err)
	}
	return state, nil
}

// Rebuild replays the user's recent history into a fresh profile and
// persists it. With no usable history the existing profile survives; a
// user with neither gets a random cold-start direction at zero
// confidence.
func (b *ProfileBuilder) Rebuild(ctx context.Context, userID string) (core.UserEmbedding, error) {
	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	since := time.Now().Add(-b.lookback)
	interactions, err := b.store.FetchRecentInteractions(ctx, userID, b.maxInteractions, since)
	if err != nil {
		return core.UserEmbedding{}, fmt.Errorf("fetching interactions for %s: %w", userID, err)
	}

	state, err := b.store.LoadUserEmbedding(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrCacheMiss):
		state = core.UserEmbedding{UserID: userID}
	default:
		return core.UserEmbedding{}, fmt.Errorf("loading profile for %s: %w", userID, err)
	}

	if len(interactions) == 0 {
		if state.LongTerm == nil {
			state.LongTerm = b.cold.RandomEmbedding()
			state.Confidence = 0
			state.UpdatedAt = time.Now().UTC()
			b.log.Info().Str("user_id", userID).Msg("no history, cold-start profile")
			if err := b.store.SaveUserEmbedding(ctx, state); err != nil {
				return core.UserEmbedding{}, fmt.Errorf("saving profile for %s: %w", userID, err)
			}
		}
		return state, nil
	}

	itemIDs := make([]string, 0, len(interactions))
	for _, ev := range interactions {
		itemIDs = append(itemIDs, ev.ItemID)
	}
	embeddings, err := b.store.FetchItemEmbeddings(ctx, itemIDs)
	if err != nil {
		return core.UserEmbedding{}, fmt.Errorf("fetching item embeddings for %s: %w", userID, err)
	}

	// Replay oldest first so the EWMA leaves the newest interactions with
	// the most influence. The store returns newest first.
	current := state.LongTerm
	processed := 0
	for i := len(interactions) - 1; i >= 0; i-- {
		ev := interactions[i]
		item, ok := embeddings[ev.ItemID]
		if !ok {
			continue
		}

		weight := ev.Weight
		if weight == 0 {
			weight = ev.Type.Weight()
		}
		if weight == 0 {
			continue
		}

		if current == nil {
			current = core.Normalize(item)
			processed++
			continue
		}

		next, err := b.warm.Update(current, item, weight)
		if err != nil {
			b.log.Warn().Err(err).Str("item_id", ev.ItemID).Msg("skipping interaction in rebuild")
			continue
		}
		current = next
		processed++
	}

	if processed == 0 {
		if state.LongTerm == nil {
			state.LongTerm = b.cold.RandomEmbedding()
			state.Confidence = 0
			state.UpdatedAt = time.Now().UTC()
			if err := b.store.SaveUserEmbedding(ctx, state); err != nil {
				return core.UserEmbedding{}, fmt.Errorf("saving profile for %s: %w", userID, err)
			}
		}
		return state, nil
	}

	state.LongTerm = current
	state.InteractionCount = processed
	state.Confidence = Confidence(processed)
	state.UpdatedAt = time.Now().UTC()

	if err := b.store.SaveUserEmbedding(ctx, state); err != nil {
		return core.UserEmbedding{}, fmt.Errorf("saving profile for %s: %w", userID, err)
	}

	b.log.Info().
		Str("user_id", userID).
		Int("processed", processed).
		Float64("confidence", state.Confidence).
		Msg("rebuilt user profile")
	return state, nil
}
