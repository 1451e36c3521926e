package session

import (
	"context"
	"errors"

	sentry "github.com/getsentry/sentry-go"

	"zunify/models"
	"zunify/player"
)

var ErrNoTrack = errors.New("no track is currently loaded")

// TogglePlay flips play/pause on the device. The paused flag is committed
// optimistically, then confirmed by the next player event.
func (s *Session) TogglePlay(ctx context.Context) error {
	if !s.ready() {
		return player.ErrNoDevice
	}
	if err := s.device.TogglePlay(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state.IsPaused = !s.state.IsPaused
	if s.state.IsPaused {
		s.state.State = Paused
	} else {
		s.state.State = Playing
	}
	paused := s.state.IsPaused
	s.mu.Unlock()

	s.queue.SetPaused(paused)
	s.publish()
	return nil
}

func (s *Session) Seek(ctx context.Context, positionMs int) error {
	if !s.ready() {
		return player.ErrNoDevice
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if err := s.device.Seek(positionMs); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.DurationMs > 0 && positionMs > s.state.DurationMs {
		positionMs = s.state.DurationMs
	}
	s.state.PositionMs = positionMs
	s.mu.Unlock()

	s.publish()
	return nil
}

func (s *Session) SetVolume(ctx context.Context, volume float64) error {
	if !s.ready() {
		return player.ErrNoDevice
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	if err := s.device.SetVolume(volume); err != nil {
		return err
	}

	s.mu.Lock()
	s.state.Volume = volume
	s.mu.Unlock()

	s.publish()
	return nil
}

// Next moves the queue cursor forward cyclically and issues an explicit play
// from the new position. An empty queue is a no-op.
func (s *Session) Next(ctx context.Context) error {
	if !s.ready() {
		return player.ErrNoDevice
	}
	track := s.queue.Advance()
	if track == nil {
		return nil
	}
	return s.playCurrent(ctx, track)
}

// Previous always steps back one position, wrapping at the front. There is
// no restart-current threshold; repeated presses keep walking the queue.
func (s *Session) Previous(ctx context.Context) error {
	if !s.ready() {
		return player.ErrNoDevice
	}
	track := s.queue.Retreat()
	if track == nil {
		return nil
	}
	return s.playCurrent(ctx, track)
}

// PlayContext replaces the queue with a new track list and starts playback
// at startIndex. This is the only entry point that changes the queue's
// context identity.
func (s *Session) PlayContext(ctx context.Context, tracks []models.Track, startIndex int, contextID string) error {
	s.queue.Replace(tracks, startIndex, contextID)
	if !s.ready() {
		return player.ErrNoDevice
	}
	track := s.queue.Current()
	if track == nil {
		return nil
	}
	return s.playCurrent(ctx, track)
}

func (s *Session) playCurrent(ctx context.Context, track *models.Track) error {
	s.mu.Lock()
	deviceID := s.state.DeviceID
	s.mu.Unlock()

	uris := s.queue.URIs()
	err := s.gateway.Retry(ctx, func(ctx context.Context) error {
		return s.remote.PlayAt(ctx, deviceID, uris, track.URI)
	})
	if err != nil {
		sentry.CaptureException(err)
		s.logger.Errorf("failed to play %s: %v", track.Name, err)
		return err
	}
	s.markActive()
	return nil
}

// ToggleLike flips the liked flag of the current track optimistically: the
// state and cache are updated first, then the library call runs. On failure
// both are rolled back to the pre-toggle value.
func (s *Session) ToggleLike(ctx context.Context) error {
	s.mu.Lock()
	if s.state.CurrentTrack == nil || s.state.CurrentTrack.ID == "" {
		s.mu.Unlock()
		return ErrNoTrack
	}
	trackID := s.state.CurrentTrack.ID
	wasLiked := s.state.CurrentTrack.Liked()
	s.state.CurrentTrack.SetLiked(!wasLiked)
	s.mu.Unlock()

	s.flags.SetLiked(trackID, !wasLiked)
	s.publish()

	var err error
	if wasLiked {
		err = s.flags.Unlike(ctx, trackID)
	} else {
		err = s.flags.Like(ctx, trackID)
	}
	if err != nil {
		s.mu.Lock()
		if s.state.CurrentTrack != nil && s.state.CurrentTrack.ID == trackID {
			s.state.CurrentTrack.SetLiked(wasLiked)
		}
		s.mu.Unlock()
		s.flags.SetLiked(trackID, wasLiked)
		s.publish()

		sentry.CaptureException(err)
		s.logger.Errorf("failed to toggle liked for %s: %v", trackID, err)
		return err
	}
	return nil
}
