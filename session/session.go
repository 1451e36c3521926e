package session

import (
	"context"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"zunify/auth"
	"zunify/models"
	"zunify/player"
	"zunify/queue"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Ready        State = "ready"
	Playing      State = "playing"
	Paused       State = "paused"
)

// PlaybackState is the live session snapshot the UI renders. PositionMs is
// advanced by a local tick between authoritative player events and
// overwritten by the next one.
type PlaybackState struct {
	DeviceID     string        `json:"device_id,omitempty"`
	State        State         `json:"state"`
	IsPaused     bool          `json:"is_paused"`
	IsActive     bool          `json:"is_active"`
	CurrentTrack *models.Track `json:"current_track,omitempty"`
	PositionMs   int           `json:"position_ms"`
	DurationMs   int           `json:"duration_ms"`
	Volume       float64       `json:"volume"`
}

// Remote is the slice of the playback-transport API the session drives.
type Remote interface {
	TransferPlayback(ctx context.Context, deviceID string) error
	PlayAt(ctx context.Context, deviceID string, uris []string, offsetURI string) error
}

// Gateway is the credential policy applied around every remote call.
type Gateway interface {
	EnsureValid(ctx context.Context) error
	Retry(ctx context.Context, fn func(ctx context.Context) error) error
}

// Overlay resolves and caches the liked flag per track id.
type Overlay interface {
	IsLiked(ctx context.Context, id string) (bool, error)
	Cached(id string) (bool, bool)
	SetLiked(id string, liked bool)
	Like(ctx context.Context, id string) error
	Unlike(ctx context.Context, id string) error
}

// Publisher receives every committed state for fan-out to the UI.
type Publisher interface {
	PushState(state interface{})
}

// Session is the state machine wrapping the vendor player. It owns
// PlaybackState exclusively: device events, transport commands and the
// position tick all funnel through it, and nothing else mutates the state.
type Session struct {
	device    player.Device
	remote    Remote
	gateway   Gateway
	creds     *auth.Credentials
	flags     Overlay
	queue     *queue.Queue
	publisher Publisher
	tick      time.Duration

	mu    sync.Mutex
	state PlaybackState

	logger *log.Entry
}

func New(device player.Device, remote Remote, gateway Gateway, creds *auth.Credentials, flags Overlay, q *queue.Queue, publisher Publisher, tick time.Duration) *Session {
	return &Session{
		device:    device,
		remote:    remote,
		gateway:   gateway,
		creds:     creds,
		flags:     flags,
		queue:     q,
		publisher: publisher,
		tick:      tick,
		state: PlaybackState{
			State:    Disconnected,
			IsPaused: q.Paused(),
			Volume:   0.6,
		},
		logger: log.WithFields(log.Fields{
			"module": "session",
		}),
	}
}

// Run consumes device events serially until ctx is cancelled. Events are
// processed in arrival order; only the liked-overlay resolution is allowed
// to complete out of band, and it merges against the live state at commit
// time.
func (s *Session) Run(ctx context.Context) {
	s.logger.Debug("session loop started")
	defer s.logger.Debug("session loop stopped")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case event := <-s.device.Events():
			s.handleEvent(ctx, event)
		case <-ticker.C:
			s.advancePosition()
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, event player.Event) {
	s.logger.Tracef("player event: %s", event.Type)

	switch event.Type {
	case player.EventTokenRequest:
		s.handleTokenRequest(ctx)
	case player.EventReady:
		s.handleReady(ctx, event.DeviceID)
	case player.EventNotReady:
		s.logger.Warnf("device %s went offline", event.DeviceID)
	case player.EventStateChanged:
		if event.State == nil {
			return
		}
		s.commitPlayerState(ctx, event.State)
	case player.EventInitializationError, player.EventAuthenticationError, player.EventAccountError:
		// terminal for this player instance; the page has to reconnect
		s.logger.Errorf("player error (%s): %s", event.Type, event.Message)
		sentry.CaptureMessage("player error (" + string(event.Type) + "): " + event.Message)
	case player.EventPlaybackError:
		// non-fatal: leave the last good state, degrade transport only
		s.logger.Errorf("playback error: %s", event.Message)
	case player.EventDisconnected:
		s.handleDisconnected()
	default:
		s.logger.Warnf("unknown player event: %s", event.Type)
	}
}

// handleTokenRequest serves the SDK's token supplier. The gateway runs
// first, so the long-running player never receives a stale token.
func (s *Session) handleTokenRequest(ctx context.Context) {
	s.mu.Lock()
	if s.state.State == Disconnected {
		s.state.State = Connecting
	}
	s.mu.Unlock()

	if err := s.gateway.EnsureValid(ctx); err != nil {
		s.logger.Warnf("cannot supply player token: %v", err)
		return
	}
	cred, ok := s.creds.Get()
	if !ok {
		s.logger.Warn("credential vanished after EnsureValid")
		return
	}
	if err := s.device.SendToken(cred.Value); err != nil {
		s.logger.Warnf("failed to deliver token to player: %v", err)
	}
}

func (s *Session) handleReady(ctx context.Context, deviceID string) {
	s.logger.Infof("device ready: %s", deviceID)

	s.mu.Lock()
	s.state.DeviceID = deviceID
	s.state.State = Ready
	s.mu.Unlock()

	// register as the active playback target; non-fatal on failure since
	// the next user action retraces it
	err := s.gateway.Retry(ctx, func(ctx context.Context) error {
		return s.remote.TransferPlayback(ctx, deviceID)
	})
	if err != nil {
		sentry.CaptureException(err)
		s.logger.Warnf("failed to transfer playback to %s: %v", deviceID, err)
	}

	// resume the hydrated queue, if any, so a reload lands where it left off
	if current := s.queue.Current(); current != nil && current.URI != "" {
		uris := s.queue.URIs()
		err := s.gateway.Retry(ctx, func(ctx context.Context) error {
			return s.remote.PlayAt(ctx, deviceID, uris, current.URI)
		})
		if err != nil {
			s.logger.Warnf("failed to resume playback of %s: %v", current.Name, err)
		} else {
			s.markActive()
		}
	}

	s.publish()
}

// commitPlayerState folds an authoritative player event into the session
// state, then resolves the liked overlay for the new track asynchronously.
func (s *Session) commitPlayerState(ctx context.Context, ps *player.State) {
	s.mu.Lock()
	if s.state.State == Disconnected {
		// events for a device we tore down; drop them
		s.mu.Unlock()
		return
	}

	var prevID string
	if s.state.CurrentTrack != nil {
		prevID = s.state.CurrentTrack.ID
	}

	s.state.IsPaused = ps.Paused
	s.state.PositionMs = ps.PositionMs
	s.state.DurationMs = ps.DurationMs
	if ps.Paused {
		s.state.State = Paused
	} else {
		s.state.State = Playing
	}

	if ps.Track != nil {
		track := *ps.Track
		if track.IsLiked == nil {
			if liked, ok := s.flags.Cached(track.ID); ok {
				track.SetLiked(liked)
			} else if prevID != "" && track.ID == prevID && s.state.CurrentTrack.IsLiked != nil {
				track.IsLiked = s.state.CurrentTrack.IsLiked
			}
		}
		s.state.CurrentTrack = &track
		if s.state.DeviceID != "" {
			s.state.IsActive = true
		}
	}

	needsOverlay := ps.Track != nil && ps.Track.ID != "" && s.state.CurrentTrack.IsLiked == nil
	trackID := ""
	if needsOverlay {
		trackID = ps.Track.ID
	}
	s.mu.Unlock()

	s.queue.SetPaused(ps.Paused)

	if needsOverlay {
		go s.resolveOverlay(ctx, trackID)
	}

	s.publish()
}

// resolveOverlay fetches the liked flag and merges it against the state at
// commit time. If a later event already moved playback to another track, the
// result only lands in the cache; the displayed state is left alone.
func (s *Session) resolveOverlay(ctx context.Context, trackID string) {
	liked, err := s.flags.IsLiked(ctx, trackID)
	if err != nil {
		s.logger.Warnf("failed to resolve liked overlay for %s: %v", trackID, err)
		return
	}

	s.mu.Lock()
	if s.state.CurrentTrack != nil && s.state.CurrentTrack.ID == trackID {
		s.state.CurrentTrack.SetLiked(liked)
		s.mu.Unlock()
		s.publish()
		return
	}
	s.mu.Unlock()
}

func (s *Session) handleDisconnected() {
	s.mu.Lock()
	s.state.State = Disconnected
	s.state.IsActive = false
	s.state.DeviceID = ""
	s.mu.Unlock()
	s.publish()
}

// advancePosition keeps the progress display smooth between authoritative
// events. Suspended while paused or when no duration is known.
func (s *Session) advancePosition() {
	s.mu.Lock()
	if s.state.State != Playing || s.state.IsPaused || s.state.DurationMs == 0 {
		s.mu.Unlock()
		return
	}
	s.state.PositionMs += int(s.tick / time.Millisecond)
	if s.state.PositionMs > s.state.DurationMs {
		s.state.PositionMs = s.state.DurationMs
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) teardown() {
	if err := s.device.Disconnect(); err != nil {
		s.logger.Warnf("error disconnecting player: %v", err)
	}
	s.mu.Lock()
	s.state.State = Disconnected
	s.state.IsActive = false
	s.state.DeviceID = ""
	s.mu.Unlock()
}

func (s *Session) markActive() {
	s.mu.Lock()
	if s.state.DeviceID != "" {
		s.state.IsActive = true
	}
	s.mu.Unlock()
}

// ready reports whether transport commands may be issued.
func (s *Session) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.State {
	case Ready, Playing, Paused:
		return s.state.DeviceID != ""
	}
	return false
}

// State returns a copy of the current playback state.
func (s *Session) State() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	if s.state.CurrentTrack != nil {
		track := *s.state.CurrentTrack
		state.CurrentTrack = &track
	}
	return state
}

func (s *Session) publish() {
	if s.publisher == nil {
		return
	}
	s.publisher.PushState(s.State())
}
