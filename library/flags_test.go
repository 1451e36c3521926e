package library

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRemote struct {
	mu        sync.Mutex
	hasCalls  int32
	gate      chan struct{} // when non-nil, HasTracks blocks until closed
	liked     map[string]bool
	addErr    error
	removeErr error
	added     []string
	removed   []string
}

func (r *fakeRemote) HasTracks(ctx context.Context, ids ...string) ([]bool, error) {
	atomic.AddInt32(&r.hasCalls, 1)
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	results := make([]bool, len(ids))
	for i, id := range ids {
		results[i] = r.liked[id]
	}
	return results, nil
}

func (r *fakeRemote) AddToLibrary(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	r.added = append(r.added, id)
	return nil
}

func (r *fakeRemote) RemoveFromLibrary(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	r.removed = append(r.removed, id)
	return nil
}

// passRetrier applies no credential policy; the policy itself is covered by
// the auth package tests.
type passRetrier struct{}

func (passRetrier) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestIsLikedCaches(t *testing.T) {
	remote := &fakeRemote{liked: map[string]bool{"a": true}}
	flags := New(remote, passRetrier{})

	liked, err := flags.IsLiked(context.Background(), "a")
	if err != nil || !liked {
		t.Fatalf("IsLiked(a) = %v, %v; want true, nil", liked, err)
	}

	// second lookup must come from cache
	if _, err := flags.IsLiked(context.Background(), "a"); err != nil {
		t.Fatalf("IsLiked(a) second = %v", err)
	}
	if got := atomic.LoadInt32(&remote.hasCalls); got != 1 {
		t.Errorf("remote lookups = %d; want 1", got)
	}
}

// Concurrent lookups for the same id during an in-flight check must not
// issue duplicate network calls.
func TestIsLikedSingleFlightPerID(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeRemote{liked: map[string]bool{"x": true}, gate: gate}
	flags := New(remote, passRetrier{})

	const callers = 6
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = flags.IsLiked(context.Background(), "x")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&remote.hasCalls); got != 1 {
		t.Errorf("remote lookups = %d; want 1", got)
	}
	for i, liked := range results {
		if !liked {
			t.Errorf("caller %d got liked=false; want true", i)
		}
	}
}

func TestIsLikedEmptyID(t *testing.T) {
	flags := New(&fakeRemote{}, passRetrier{})
	if _, err := flags.IsLiked(context.Background(), ""); err == nil {
		t.Error("IsLiked(\"\") = nil error; want error")
	}
}

func TestLikeCommitsOverlay(t *testing.T) {
	remote := &fakeRemote{liked: map[string]bool{}}
	flags := New(remote, passRetrier{})

	if err := flags.Like(context.Background(), "a"); err != nil {
		t.Fatalf("Like() = %v", err)
	}
	if liked, ok := flags.Cached("a"); !ok || !liked {
		t.Errorf("Cached(a) = %v, %v; want true, true", liked, ok)
	}

	if err := flags.Unlike(context.Background(), "a"); err != nil {
		t.Fatalf("Unlike() = %v", err)
	}
	if liked, ok := flags.Cached("a"); !ok || liked {
		t.Errorf("Cached(a) after Unlike = %v, %v; want false, true", liked, ok)
	}
}

func TestLikeFailureLeavesCacheAlone(t *testing.T) {
	remote := &fakeRemote{addErr: errors.New("boom")}
	flags := New(remote, passRetrier{})
	flags.SetLiked("a", false)

	if err := flags.Like(context.Background(), "a"); err == nil {
		t.Fatal("Like() = nil; want error")
	}
	if liked, _ := flags.Cached("a"); liked {
		t.Error("cache flipped despite a failed mutation")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	remote := &fakeRemote{liked: map[string]bool{"a": true}}
	flags := New(remote, passRetrier{})

	if _, err := flags.IsLiked(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	flags.Invalidate("a")
	if _, err := flags.IsLiked(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&remote.hasCalls); got != 2 {
		t.Errorf("remote lookups = %d; want 2 after invalidation", got)
	}
}
