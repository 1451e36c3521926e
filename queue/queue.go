package queue

import (
	"sync"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"zunify/models"
	"zunify/store"
)

// Queue is the durable play queue: what next/previous operate over. Replace
// is the only operation that changes the context; advance/retreat only move
// the cursor. Every mutation writes through to the session snapshot so a
// restart can reconstruct the queue before the device is even ready.
type Queue struct {
	mu          sync.Mutex
	tracks      []models.Track
	activeIndex int
	contextID   string
	paused      bool
	store       *store.Store
	logger      *log.Entry
}

func New(st *store.Store) *Queue {
	return &Queue{
		store: st,
		logger: log.WithFields(log.Fields{
			"module": "queue",
		}),
	}
}

// Hydrate reconstructs the queue from the durable snapshot at startup. A
// snapshot written by a previous context is still valid until explicitly
// replaced.
func (q *Queue) Hydrate() {
	snap, ok, err := q.store.LoadSnapshot()
	if err != nil {
		sentry.CaptureException(err)
		q.logger.Errorf("failed to hydrate queue: %v", err)
		return
	}
	if !ok {
		q.logger.Debug("no stored snapshot, starting with an empty queue")
		return
	}

	q.mu.Lock()
	q.tracks = snap.Tracks
	q.activeIndex = snap.ActiveIndex
	q.contextID = snap.ContextID
	q.paused = snap.Paused
	if q.activeIndex < 0 || q.activeIndex >= len(q.tracks) {
		q.activeIndex = 0
	}
	q.mu.Unlock()

	q.logger.Infof("hydrated queue: %d tracks, index %d, context %q", len(snap.Tracks), snap.ActiveIndex, snap.ContextID)
}

// Replace rewrites the queue wholesale. Called on every "play this list"
// action, and the only way the context id changes.
func (q *Queue) Replace(tracks []models.Track, startIndex int, contextID string) {
	q.mu.Lock()
	if startIndex < 0 || startIndex >= len(tracks) {
		startIndex = 0
	}
	q.tracks = tracks
	q.activeIndex = startIndex
	q.contextID = contextID
	q.mu.Unlock()

	q.persist()
}

// Advance moves the cursor forward cyclically and returns the new active
// track. On an empty queue it is a no-op returning nil.
func (q *Queue) Advance() *models.Track {
	q.mu.Lock()
	if len(q.tracks) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.activeIndex = (q.activeIndex + 1) % len(q.tracks)
	track := q.tracks[q.activeIndex]
	q.mu.Unlock()

	q.persist()
	return &track
}

// Retreat moves the cursor backward, wrapping to the last track at index 0.
func (q *Queue) Retreat() *models.Track {
	q.mu.Lock()
	if len(q.tracks) == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.activeIndex > 0 {
		q.activeIndex--
	} else {
		q.activeIndex = len(q.tracks) - 1
	}
	track := q.tracks[q.activeIndex]
	q.mu.Unlock()

	q.persist()
	return &track
}

// Current returns the active track, or nil when the queue is empty.
func (q *Queue) Current() *models.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	track := q.tracks[q.activeIndex]
	return &track
}

func (q *Queue) ContextID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.contextID
}

func (q *Queue) ActiveIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeIndex
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// URIs returns the play order for remote play commands.
func (q *Queue) URIs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	uris := make([]string, 0, len(q.tracks))
	for _, t := range q.tracks {
		if t.URI != "" {
			uris = append(uris, t.URI)
		}
	}
	return uris
}

// SetPaused records the paused flag in the snapshot alongside the queue.
func (q *Queue) SetPaused(paused bool) {
	q.mu.Lock()
	changed := q.paused != paused
	q.paused = paused
	q.mu.Unlock()

	if !changed {
		return
	}
	if err := q.store.SavePaused(paused); err != nil {
		sentry.CaptureException(err)
		q.logger.Errorf("failed to persist paused flag: %v", err)
	}
}

func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (q *Queue) persist() {
	q.mu.Lock()
	snap := store.Snapshot{
		Tracks:      q.tracks,
		ActiveIndex: q.activeIndex,
		ContextID:   q.contextID,
		Paused:      q.paused,
	}
	q.mu.Unlock()

	if err := q.store.SaveSnapshot(snap); err != nil {
		sentry.CaptureException(err)
		q.logger.Errorf("failed to persist queue snapshot: %v", err)
	}
}
