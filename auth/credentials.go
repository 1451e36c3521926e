package auth

import (
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"zunify/store"
)

// Credential is the short-lived bearer token plus its absolute expiry.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the credential has not yet expired. Expiry-awareness
// beyond this (safety margins, refresh) belongs to the Gateway.
func (c Credential) Valid(now time.Time) bool {
	return c.Value != "" && now.Before(c.ExpiresAt)
}

// Credentials holds the current access credential. The Gateway is the only
// writer; everything else reads. Every set/clear is mirrored to the durable
// store so a restart can rehydrate without re-authenticating.
type Credentials struct {
	mu    sync.RWMutex
	cred  Credential
	has   bool
	store *store.Store
}

func NewCredentials(st *store.Store) *Credentials {
	return &Credentials{store: st}
}

// Hydrate loads the mirrored credential at startup. An already-expired
// mirror is ignored, matching a cold start with no prior session.
func (c *Credentials) Hydrate() {
	token, expiresAt, ok, err := c.store.LoadCredential()
	if err != nil {
		sentry.CaptureException(err)
		log.Errorf("failed to hydrate credential: %v", err)
		return
	}
	if !ok {
		log.Debug("no stored credential, starting unauthenticated")
		return
	}
	cred := Credential{Value: token, ExpiresAt: expiresAt}
	if !cred.Valid(time.Now()) {
		log.Debug("stored credential already expired, discarding")
		return
	}

	c.mu.Lock()
	c.cred = cred
	c.has = true
	c.mu.Unlock()
	log.Infof("hydrated credential, expires at %s", expiresAt.Format(time.RFC3339))
}

func (c *Credentials) Get() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.has
}

func (c *Credentials) Set(cred Credential) {
	c.mu.Lock()
	c.cred = cred
	c.has = true
	c.mu.Unlock()

	if err := c.store.SaveCredential(cred.Value, cred.ExpiresAt); err != nil {
		sentry.CaptureException(err)
		log.Errorf("failed to mirror credential: %v", err)
	}
}

func (c *Credentials) Clear() {
	c.mu.Lock()
	c.cred = Credential{}
	c.has = false
	c.mu.Unlock()

	if err := c.store.ClearCredential(); err != nil {
		sentry.CaptureException(err)
		log.Errorf("failed to erase mirrored credential: %v", err)
	}
}
