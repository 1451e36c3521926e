package auth

import (
	"context"
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"zunify/relay"
)

// Refresher exchanges the relay's server-side refresh credential for a new
// access token.
type Refresher interface {
	RefreshToken(ctx context.Context) (*relay.RefreshResult, error)
}

// Gateway owns the credential lifecycle: proactive renewal before expiry and
// reactive renewal after a 401. Every call site applies the same policy
// through EnsureValid and Retry instead of duplicating expiry math.
type Gateway struct {
	creds   *Credentials
	relay   Refresher
	margin  time.Duration
	timeout time.Duration
	flight  singleflight.Group
	logger  *log.Entry

	// now is swapped in tests
	now func() time.Time
}

func NewGateway(creds *Credentials, refresher Refresher, margin, timeout time.Duration) *Gateway {
	return &Gateway{
		creds:   creds,
		relay:   refresher,
		margin:  margin,
		timeout: timeout,
		logger: log.WithFields(log.Fields{
			"module": "auth",
		}),
		now: time.Now,
	}
}

// EnsureValid guarantees a usable credential before a dependent call is
// issued. Returns ErrNoCredential when the user must authenticate, refreshes
// first when the credential is within the safety margin of expiry, and
// returns nil immediately otherwise.
func (g *Gateway) EnsureValid(ctx context.Context) error {
	cred, ok := g.creds.Get()
	if !ok {
		return ErrNoCredential
	}

	if g.now().Add(g.margin).Before(cred.ExpiresAt) {
		return nil
	}

	g.logger.Debugf("credential within safety margin of expiry, refreshing")
	return g.Refresh(ctx)
}

// Refresh exchanges for a new credential and overwrites the store on
// success. Concurrent callers during an in-flight refresh await the same
// outcome rather than issuing duplicate network calls.
func (g *Gateway) Refresh(ctx context.Context) error {
	ch := g.flight.DoChan("refresh", func() (interface{}, error) {
		// Detached from the caller's context: the flight's result is shared,
		// so one caller's cancellation must not fail the whole batch. The
		// timeout bounds a hung relay instead.
		rctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		result, err := g.relay.RefreshToken(rctx)
		if err != nil {
			sentry.CaptureException(err)
			g.logger.Errorf("refresh failed: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}

		expiresAt := g.now().Add(time.Duration(result.ExpiresIn) * time.Second)
		g.creds.Set(Credential{Value: result.AccessToken, ExpiresAt: expiresAt})
		g.logger.Infof("credential refreshed, expires at %s", expiresAt.Format(time.RFC3339))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverFromUnauthorized is the reactive half of the one-retry policy: true
// only when err is specifically the 401 class and a refresh then succeeds.
// All other errors return false with no side effects.
func (g *Gateway) RecoverFromUnauthorized(ctx context.Context, err error) bool {
	if !IsUnauthorized(err) {
		return false
	}
	if refreshErr := g.Refresh(ctx); refreshErr != nil {
		return false
	}
	return true
}

// Retry runs fn under the uniform policy: EnsureValid first, then on an
// unauthorized failure refresh and repeat fn exactly once. A second failure
// of any kind is surfaced to the caller.
func (g *Gateway) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.EnsureValid(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}

	if g.RecoverFromUnauthorized(ctx, err) {
		return fn(ctx)
	}
	return err
}

// AutoRefresh keeps idle sessions alive: it sleeps until shortly before the
// current expiry, refreshes, and re-arms off the new expiry. Cancelled by
// ctx on teardown.
func (g *Gateway) AutoRefresh(ctx context.Context) {
	const recheck = 30 * time.Second

	g.logger.Debug("background refresh loop started")
	defer g.logger.Debug("background refresh loop stopped")

	for {
		wait := recheck
		if cred, ok := g.creds.Get(); ok {
			wait = cred.ExpiresAt.Add(-g.margin).Sub(g.now())
			if wait < time.Second {
				wait = time.Second
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, ok := g.creds.Get(); !ok {
			continue
		}
		if err := g.Refresh(ctx); err != nil {
			g.logger.Warnf("background refresh failed, waiting for re-authentication: %v", err)
			// back off instead of hammering a relay that just said no
			select {
			case <-ctx.Done():
				return
			case <-time.After(recheck):
			}
		}
	}
}
