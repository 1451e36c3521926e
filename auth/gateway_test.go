package auth

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	spotifyclient "github.com/zmb3/spotify/v2"

	"zunify/relay"
	"zunify/store"
)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int32
	fail    bool
	gate    chan struct{} // when non-nil, RefreshToken blocks until closed
	token   string
	expires int
}

func (f *fakeRefresher) RefreshToken(ctx context.Context) (*relay.RefreshResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, relay.ErrNoRefreshSession{Status: http.StatusUnauthorized}
	}
	token := f.token
	if token == "" {
		token = "fresh-token"
	}
	expires := f.expires
	if expires == 0 {
		expires = 3600
	}
	return &relay.RefreshResult{AccessToken: token, ExpiresIn: expires}, nil
}

func (f *fakeRefresher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func newTestGateway(t *testing.T, refresher Refresher) (*Gateway, *Credentials) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	creds := NewCredentials(st)
	gw := NewGateway(creds, refresher, 60*time.Second, 5*time.Second)
	return gw, creds
}

func TestEnsureValidNoCredential(t *testing.T) {
	refresher := &fakeRefresher{}
	gw, _ := newTestGateway(t, refresher)

	err := gw.EnsureValid(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("EnsureValid() = %v; want ErrNoCredential", err)
	}
	if refresher.callCount() != 0 {
		t.Errorf("refresh calls = %d; want 0", refresher.callCount())
	}
}

func TestEnsureValidFreshCredential(t *testing.T) {
	refresher := &fakeRefresher{}
	gw, creds := newTestGateway(t, refresher)
	creds.Set(Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	if err := gw.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() = %v; want nil", err)
	}
	if refresher.callCount() != 0 {
		t.Errorf("refresh calls = %d; want 0 for a fresh credential", refresher.callCount())
	}
}

// Credential expires in 30s with a 60s safety margin: exactly one refresh
// call, and the outcome follows the refresh.
func TestEnsureValidWithinMargin(t *testing.T) {
	tests := []struct {
		name        string
		refreshFail bool
		wantErr     bool
	}{
		{"refresh_succeeds", false, false},
		{"refresh_fails", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{fail: tt.refreshFail}
			gw, creds := newTestGateway(t, refresher)
			creds.Set(Credential{Value: "old", ExpiresAt: time.Now().Add(30 * time.Second)})

			err := gw.EnsureValid(context.Background())
			if tt.wantErr {
				if !errors.Is(err, ErrRefreshFailed) {
					t.Fatalf("EnsureValid() = %v; want ErrRefreshFailed", err)
				}
				// the store must be left untouched on failure
				if cred, ok := creds.Get(); !ok || cred.Value != "old" {
					t.Errorf("credential after failed refresh = %+v, ok=%v; want old untouched", cred, ok)
				}
			} else {
				if err != nil {
					t.Fatalf("EnsureValid() = %v; want nil", err)
				}
				if cred, _ := creds.Get(); cred.Value != "fresh-token" {
					t.Errorf("credential = %q; want fresh-token", cred.Value)
				}
			}
			if refresher.callCount() != 1 {
				t.Errorf("refresh calls = %d; want exactly 1", refresher.callCount())
			}
		})
	}
}

// Concurrent Refresh callers during an in-flight refresh must await the same
// outcome instead of issuing duplicate network calls.
func TestRefreshSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	refresher := &fakeRefresher{gate: gate}
	gw, creds := newTestGateway(t, refresher)
	creds.Set(Credential{Value: "old", ExpiresAt: time.Now().Add(10 * time.Second)})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gw.Refresh(context.Background())
		}(i)
	}

	// let the callers pile onto the in-flight refresh, then release it
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := refresher.callCount(); got != 1 {
		t.Errorf("refresh network calls = %d; want 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d error = %v; want nil", i, err)
		}
	}
}

func TestRecoverFromUnauthorized(t *testing.T) {
	unauthorized := spotifyclient.Error{Status: http.StatusUnauthorized, Message: "The access token expired"}
	rateLimited := spotifyclient.Error{Status: http.StatusTooManyRequests, Message: "rate limited"}

	tests := []struct {
		name        string
		err         error
		refreshFail bool
		want        bool
		wantCalls   int
	}{
		{"unauthorized_refresh_ok", unauthorized, false, true, 1},
		{"unauthorized_refresh_fails", unauthorized, true, false, 1},
		{"rate_limited", rateLimited, false, false, 0},
		{"plain_error", errors.New("boom"), false, false, 0},
		{"nil_error", nil, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{fail: tt.refreshFail}
			gw, creds := newTestGateway(t, refresher)
			creds.Set(Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)})

			if got := gw.RecoverFromUnauthorized(context.Background(), tt.err); got != tt.want {
				t.Errorf("RecoverFromUnauthorized() = %v; want %v", got, tt.want)
			}
			if refresher.callCount() != tt.wantCalls {
				t.Errorf("refresh calls = %d; want %d", refresher.callCount(), tt.wantCalls)
			}
		})
	}
}

func TestRetryOnceSemantics(t *testing.T) {
	unauthorized := spotifyclient.Error{Status: http.StatusUnauthorized, Message: "expired"}

	t.Run("second_attempt_succeeds", func(t *testing.T) {
		refresher := &fakeRefresher{}
		gw, creds := newTestGateway(t, refresher)
		creds.Set(Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)})

		attempts := 0
		err := gw.Retry(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return unauthorized
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Retry() = %v; want nil", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d; want 2", attempts)
		}
	})

	t.Run("second_401_surfaces", func(t *testing.T) {
		refresher := &fakeRefresher{}
		gw, creds := newTestGateway(t, refresher)
		creds.Set(Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)})

		attempts := 0
		err := gw.Retry(context.Background(), func(ctx context.Context) error {
			attempts++
			return unauthorized
		})
		if !IsUnauthorized(err) {
			t.Fatalf("Retry() = %v; want the surfaced 401", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d; want exactly 2, never more", attempts)
		}
		if refresher.callCount() != 1 {
			t.Errorf("refresh calls = %d; want 1", refresher.callCount())
		}
	})

	t.Run("rate_limited_not_retried", func(t *testing.T) {
		refresher := &fakeRefresher{}
		gw, creds := newTestGateway(t, refresher)
		creds.Set(Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)})

		rateLimited := spotifyclient.Error{Status: http.StatusTooManyRequests, Message: "slow down"}
		attempts := 0
		err := gw.Retry(context.Background(), func(ctx context.Context) error {
			attempts++
			return rateLimited
		})
		if !IsRateLimited(err) {
			t.Fatalf("Retry() = %v; want surfaced 429", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d; want 1", attempts)
		}
		if refresher.callCount() != 0 {
			t.Errorf("refresh calls = %d; want 0", refresher.callCount())
		}
	})

	t.Run("no_credential_blocks_call", func(t *testing.T) {
		refresher := &fakeRefresher{}
		gw, _ := newTestGateway(t, refresher)

		attempts := 0
		err := gw.Retry(context.Background(), func(ctx context.Context) error {
			attempts++
			return nil
		})
		if !errors.Is(err, ErrNoCredential) {
			t.Fatalf("Retry() = %v; want ErrNoCredential", err)
		}
		if attempts != 0 {
			t.Errorf("attempts = %d; the guarded call must not be issued", attempts)
		}
	})
}

func TestHydrateIgnoresExpiredMirror(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	if err := st.SaveCredential("stale", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("SaveCredential() error = %v", err)
	}

	creds := NewCredentials(st)
	creds.Hydrate()
	if _, ok := creds.Get(); ok {
		t.Error("Hydrate() kept an expired credential")
	}
}

func TestHydrateLoadsValidMirror(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	expires := time.Now().Add(time.Hour)
	if err := st.SaveCredential("alive", expires); err != nil {
		t.Fatalf("SaveCredential() error = %v", err)
	}

	creds := NewCredentials(st)
	creds.Hydrate()
	cred, ok := creds.Get()
	if !ok || cred.Value != "alive" {
		t.Errorf("Hydrate() = %+v, ok=%v; want the stored credential", cred, ok)
	}
}
