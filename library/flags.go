package library

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Remote is the slice of the catalog API the liked-overlay needs.
type Remote interface {
	HasTracks(ctx context.Context, ids ...string) ([]bool, error)
	AddToLibrary(ctx context.Context, id string) error
	RemoveFromLibrary(ctx context.Context, id string) error
}

// Retrier applies the uniform ensure-then-retry-once credential policy.
type Retrier interface {
	Retry(ctx context.Context, fn func(ctx context.Context) error) error
}

// Flags answers "is this track liked" without a network round trip on every
// state change. Results are cached per track id for the session; concurrent
// lookups for the same id collapse into one in-flight call, so rapid track
// changes cannot fan out into redundant requests.
type Flags struct {
	remote  Remote
	gateway Retrier
	mu      sync.RWMutex
	cache   map[string]bool
	flight  singleflight.Group
	logger  *log.Entry
}

func New(remote Remote, gateway Retrier) *Flags {
	return &Flags{
		remote:  remote,
		gateway: gateway,
		cache:   make(map[string]bool),
		logger: log.WithFields(log.Fields{
			"module": "library",
		}),
	}
}

// IsLiked resolves the liked overlay for a track id, from cache when
// possible.
func (f *Flags) IsLiked(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("empty track id")
	}

	f.mu.RLock()
	liked, ok := f.cache[id]
	f.mu.RUnlock()
	if ok {
		return liked, nil
	}

	result, err, _ := f.flight.Do(id, func() (interface{}, error) {
		var liked bool
		err := f.gateway.Retry(ctx, func(ctx context.Context) error {
			results, err := f.remote.HasTracks(ctx, id)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				return fmt.Errorf("library check returned no result for %s", id)
			}
			liked = results[0]
			return nil
		})
		if err != nil {
			return false, err
		}

		f.mu.Lock()
		f.cache[id] = liked
		f.mu.Unlock()
		return liked, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Cached returns the overlay without touching the network.
func (f *Flags) Cached(id string) (bool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	liked, ok := f.cache[id]
	return liked, ok
}

// SetLiked overwrites the cached overlay. Used by the optimistic like path
// and its rollback.
func (f *Flags) SetLiked(id string, liked bool) {
	f.mu.Lock()
	f.cache[id] = liked
	f.mu.Unlock()
}

// Invalidate drops the cached overlay for a track id.
func (f *Flags) Invalidate(id string) {
	f.mu.Lock()
	delete(f.cache, id)
	f.mu.Unlock()
}

// Like adds the track to the library and commits the overlay on success.
func (f *Flags) Like(ctx context.Context, id string) error {
	err := f.gateway.Retry(ctx, func(ctx context.Context) error {
		return f.remote.AddToLibrary(ctx, id)
	})
	if err != nil {
		return err
	}
	f.SetLiked(id, true)
	return nil
}

// Unlike removes the track from the library and commits the overlay on
// success.
func (f *Flags) Unlike(ctx context.Context, id string) error {
	err := f.gateway.Retry(ctx, func(ctx context.Context) error {
		return f.remote.RemoveFromLibrary(ctx, id)
	})
	if err != nil {
		return err
	}
	f.SetLiked(id, false)
	return nil
}
