// Package dedup guarantees at-most-one provider send per logical
// notification per channel. Terminal outcomes are cached under a dedup
// key with a TTL; concurrent dispatches for the same key serialize
// through a single-flight so callers share one in-flight result.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/edusphere/notify-api/internal/model"
)

// Outcome is the cached terminal result of one delivery.
type Outcome struct {
	Status model.NotificationStatus `json:"status"`
	Error  string                   `json:"error,omitempty"`
	At     time.Time                `json:"at"`
}

// Store persists outcomes keyed by the dedup tuple.
type Store interface {
	// Get returns the cached outcome, or nil when the key is unknown.
	Get(ctx context.Context, key string) (*Outcome, error)
	// Put stores a terminal outcome with a TTL.
	Put(ctx context.Context, key string, o Outcome, ttl time.Duration) error
}

// Claimer is an optional Store capability: a cross-process claim so two
// instances do not dispatch the same key concurrently. The in-process
// single-flight covers single-instance deployments without it. Claims
// are fenced by a caller token: Release must only delete a claim still
// holding that token, so a takeover after TTL expiry never drops a
// slower holder's claim.
type Claimer interface {
	TryClaim(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// Key builds the dedup key for one (correlation, channel, recipient)
// triple. The recipient component falls back to the user ID when the
// payload carries no address.
func Key(correlationID string, channel model.Channel, recipient string) string {
	return fmt.Sprintf("notify:dedup:%s:%s:%s", correlationID, channel, recipient)
}

// Deduper wraps a Store with single-flight and claim semantics.
type Deduper struct {
	store    Store
	ttl      time.Duration
	claimTTL time.Duration
	sf       singleflight.Group
}

func New(store Store, ttl, claimTTL time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	return &Deduper{store: store, ttl: ttl, claimTTL: claimTTL}
}

// Do returns the cached outcome when one exists (replayed=true), or runs
// fn exactly once for concurrent callers of the same key and caches its
// result. Store failures fail open: the dispatch proceeds rather than
// blocking delivery on the dedup backend.
func (d *Deduper) Do(ctx context.Context, key string, fn func(ctx context.Context) Outcome) (Outcome, bool, error) {
	if o, err := d.store.Get(ctx, key); err == nil && o != nil {
		return *o, true, nil
	}

	var mine bool
	v, err, _ := d.sf.Do(key, func() (interface{}, error) {
		mine = true

		// Another flight may have finished between the fast-path check
		// and the flight starting.
		if o, err := d.store.Get(ctx, key); err == nil && o != nil {
			return *o, nil
		}

		if claimer, ok := d.store.(Claimer); ok {
			token := uuid.NewString()
			acquired, err := claimer.TryClaim(ctx, key, token, d.claimTTL)
			if err == nil && !acquired {
				if o := d.awaitOutcome(ctx, key); o != nil {
					return *o, nil
				}
				// Claim holder died or never published; fall through and
				// dispatch ourselves.
			}
			// Token-fenced: a no-op unless the claim still carries our
			// token, so a slow holder's claim is never dropped here.
			defer func() {
				_ = claimer.Release(context.WithoutCancel(ctx), key, token)
			}()
		}

		o := fn(ctx)
		if err := d.store.Put(context.WithoutCancel(ctx), key, o, d.ttl); err != nil {
			return o, nil
		}
		return o, nil
	})
	if err != nil {
		return Outcome{}, false, err
	}

	outcome := v.(Outcome)
	// Callers that joined an existing flight observe a replay of the
	// shared result.
	return outcome, !mine, nil
}

// awaitOutcome polls for the claim holder's result until the claim TTL
// elapses.
func (d *Deduper) awaitOutcome(ctx context.Context, key string) *Outcome {
	deadline := time.Now().Add(d.claimTTL)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if o, err := d.store.Get(ctx, key); err == nil && o != nil {
				return o
			}
		}
	}
	return nil
}
