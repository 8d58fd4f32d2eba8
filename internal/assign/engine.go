package assign

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"astromatch-backend/internal/events"
	"astromatch-backend/internal/model"
	"astromatch-backend/internal/store"
)

// Notifier drives the post-assignment notification pipeline for a fresh offer
// set. Implementations must be best-effort: the offers are already persisted
// by the time Notify runs.
type Notifier interface {
	NotifyOffer(ctx context.Context, session *model.Session, astrologerIDs []int64)
}

// bucket scan priority: idle pools first.
var tierOrder = []string{model.BucketAvailable, model.BucketWaiting, model.BucketBusy}

// Engine assigns pools of astrologers to waiting free-tier sessions by
// scanning capacity buckets in a fixed priority order.
type Engine struct {
	store    store.Store
	notifier Notifier
	events   events.Publisher
	env      string
}

// NewEngine creates an assignment engine for one bucket environment.
func NewEngine(s store.Store, notifier Notifier, publisher events.Publisher, env string) *Engine {
	if publisher == nil {
		publisher = events.Nop()
	}
	return &Engine{
		store:    s,
		notifier: notifier,
		events:   publisher,
		env:      env,
	}
}

// Assign produces a new offer set for the given session and fires the
// notification pipeline. It returns true when an offer set was issued.
//
// A session that is no longer waiting, or for which no bucket yields a
// candidate, is a silent no-op: callers must tolerate (false, nil).
func (e *Engine) Assign(ctx context.Context, sessionID int64) (bool, error) {
	// Re-validate right before mutating: the session may have resolved since
	// the caller selected it.
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}
	if session.Status != model.StatusWaiting {
		return false, nil
	}

	// Astrologers already offered this session, currently or in a previous
	// rotation, are never re-selected for it. The set is re-derived from the
	// offer rows on every call, so it is not a permanent ban.
	excluded := make(map[int64]struct{}, len(session.Offers))
	for _, offer := range session.Offers {
		excluded[offer.AstrologerID] = struct{}{}
	}

	candidates, err := e.selectCandidates(ctx, excluded)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		// No bucket capacity anywhere; the next sweep tick retries.
		return false, nil
	}

	// Rotation and the fresh offer set are persisted together; the previous
	// offers stay on record as history.
	if err := e.store.ReplaceOffers(ctx, session.ID, candidates); err != nil {
		return false, err
	}

	e.events.Publish(ctx, events.OfferIssued, events.OfferPayload{
		SessionID:     session.ID,
		AstrologerIDs: candidates,
	})

	e.notifier.NotifyOffer(ctx, session, candidates)
	return true, nil
}

// selectCandidates scans bucket tiers in priority order and returns the first
// bucket's astrologers not yet offered the session. Earliest bucket wins; the
// scan stops at the first non-empty candidate set.
func (e *Engine) selectCandidates(ctx context.Context, excluded map[int64]struct{}) ([]int64, error) {
	for _, tier := range tierOrder {
		buckets, err := e.store.ListBuckets(ctx, e.env, tier)
		if err != nil {
			return nil, err
		}
		for _, bucket := range buckets {
			var candidates []int64
			for _, id := range bucket.AvailableAstrologerIDs() {
				if _, seen := excluded[id]; !seen {
					candidates = append(candidates, id)
				}
			}
			if len(candidates) > 0 {
				log.Printf("selected bucket %d (%s) with %d candidates", bucket.BucketNumber, tier, len(candidates))
				return candidates, nil
			}
		}
	}
	return nil, nil
}
