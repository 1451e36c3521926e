package spotify

import (
	"context"
	"net/http"

	sentry "github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	spotifyclient "github.com/zmb3/spotify/v2"

	"zunify/auth"
	"zunify/models"
)

// Client wraps the remote catalog/playback API. Requests carry the bearer
// credential from the session's credential store per call, so a long-running
// session never pins a stale token inside the HTTP client.
type Client struct {
	api    *spotifyclient.Client
	logger *log.Entry
}

// bearerTransport injects the current access credential into every request.
type bearerTransport struct {
	creds *auth.Credentials
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if cred, ok := t.creds.Get(); ok {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	}
	return base.RoundTrip(req)
}

func NewClient(creds *auth.Credentials) *Client {
	httpClient := &http.Client{
		Transport: &bearerTransport{creds: creds},
	}
	return &Client{
		api: spotifyclient.New(httpClient),
		logger: log.WithFields(log.Fields{
			"module": "spotify",
		}),
	}
}

func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error) {
	span := sentry.StartSpan(ctx, "spotify.search")
	span.Description = "Search tracks"
	span.SetTag("query", query)
	defer span.Finish()

	results, err := c.api.Search(ctx, query, spotifyclient.SearchTypeTrack, spotifyclient.Limit(limit))
	if err != nil {
		c.logger.Errorf("search failed for %q: %v", query, err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	var tracks []models.Track
	if results.Tracks != nil {
		for i := range results.Tracks.Tracks {
			tracks = append(tracks, models.FromFullTrack(&results.Tracks.Tracks[i]))
		}
	}
	span.Status = sentry.SpanStatusOK
	return tracks, nil
}

func (c *Client) PlaylistTracks(ctx context.Context, playlistID string, limit int) ([]models.Track, error) {
	span := sentry.StartSpan(ctx, "spotify.playlist_tracks")
	span.Description = "Get playlist tracks"
	span.SetTag("playlist_id", playlistID)
	defer span.Finish()

	items, err := c.api.GetPlaylistItems(ctx, spotifyclient.ID(playlistID), spotifyclient.Limit(limit))
	if err != nil {
		c.logger.Errorf("failed to fetch playlist %s: %v", playlistID, err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	tracks := make([]models.Track, 0, len(items.Items))
	for i := range items.Items {
		// skip non-track items (podcasts, episodes)
		if items.Items[i].Track.Track == nil {
			continue
		}
		tracks = append(tracks, models.FromFullTrack(items.Items[i].Track.Track))
	}

	c.logger.Debugf("fetched %d tracks from playlist %s", len(tracks), playlistID)
	span.Status = sentry.SpanStatusOK
	span.SetData("tracks_count", len(tracks))
	return tracks, nil
}

func (c *Client) AlbumTracks(ctx context.Context, albumID string) ([]models.Track, error) {
	span := sentry.StartSpan(ctx, "spotify.album_tracks")
	span.Description = "Get album tracks"
	span.SetTag("album_id", albumID)
	defer span.Finish()

	album, err := c.api.GetAlbum(ctx, spotifyclient.ID(albumID))
	if err != nil {
		c.logger.Errorf("failed to fetch album %s: %v", albumID, err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	tracks := make([]models.Track, 0, len(album.Tracks.Tracks))
	for i := range album.Tracks.Tracks {
		tracks = append(tracks, models.FromSimpleTrack(&album.Tracks.Tracks[i], &album.SimpleAlbum))
	}
	span.Status = sentry.SpanStatusOK
	return tracks, nil
}

func (c *Client) LikedTracks(ctx context.Context, limit int) ([]models.Track, error) {
	span := sentry.StartSpan(ctx, "spotify.liked_tracks")
	span.Description = "Get liked songs"
	defer span.Finish()

	saved, err := c.api.CurrentUsersTracks(ctx, spotifyclient.Limit(limit))
	if err != nil {
		c.logger.Errorf("failed to fetch liked songs: %v", err)
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}

	tracks := make([]models.Track, 0, len(saved.Tracks))
	for i := range saved.Tracks {
		track := models.FromFullTrack(&saved.Tracks[i].FullTrack)
		track.SetLiked(true)
		tracks = append(tracks, track)
	}
	span.Status = sentry.SpanStatusOK
	return tracks, nil
}

// HasTracks answers "is track liked" for up to 50 ids per call.
func (c *Client) HasTracks(ctx context.Context, ids ...string) ([]bool, error) {
	span := sentry.StartSpan(ctx, "spotify.has_tracks")
	span.Description = "Check library membership"
	defer span.Finish()

	spotifyIDs := make([]spotifyclient.ID, len(ids))
	for i, id := range ids {
		spotifyIDs[i] = spotifyclient.ID(id)
	}

	liked, err := c.api.UserHasTracks(ctx, spotifyIDs...)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}
	span.Status = sentry.SpanStatusOK
	return liked, nil
}

func (c *Client) AddToLibrary(ctx context.Context, id string) error {
	span := sentry.StartSpan(ctx, "spotify.add_to_library")
	span.SetTag("track_id", id)
	defer span.Finish()

	if err := c.api.AddTracksToLibrary(ctx, spotifyclient.ID(id)); err != nil {
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

func (c *Client) RemoveFromLibrary(ctx context.Context, id string) error {
	span := sentry.StartSpan(ctx, "spotify.remove_from_library")
	span.SetTag("track_id", id)
	defer span.Finish()

	if err := c.api.RemoveTracksFromLibrary(ctx, spotifyclient.ID(id)); err != nil {
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

// TransferPlayback registers deviceID as the active playback target.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string) error {
	span := sentry.StartSpan(ctx, "spotify.transfer_playback")
	span.SetTag("device_id", deviceID)
	defer span.Finish()

	if err := c.api.TransferPlayback(ctx, spotifyclient.ID(deviceID), false); err != nil {
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	span.Status = sentry.SpanStatusOK
	return nil
}

// PlayAt starts playback of uris on deviceID at the track named by
// offsetURI. Used for queue seeds and for next/previous, so the remote
// service's idea of the queue can never diverge from ours.
func (c *Client) PlayAt(ctx context.Context, deviceID string, uris []string, offsetURI string) error {
	span := sentry.StartSpan(ctx, "spotify.play_at")
	span.SetTag("device_id", deviceID)
	span.SetData("uris_count", len(uris))
	defer span.Finish()

	playURIs := make([]spotifyclient.URI, len(uris))
	for i, uri := range uris {
		playURIs[i] = spotifyclient.URI(uri)
	}

	deviceIDTyped := spotifyclient.ID(deviceID)
	opts := &spotifyclient.PlayOptions{
		DeviceID: &deviceIDTyped,
		URIs:     playURIs,
	}
	if offsetURI != "" {
		opts.PlaybackOffset = &spotifyclient.PlaybackOffset{URI: spotifyclient.URI(offsetURI)}
	}

	if err := c.api.PlayOpt(ctx, opts); err != nil {
		c.logger.Errorf("play command failed on device %s: %v", deviceID, err)
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	span.Status = sentry.SpanStatusOK
	return nil
}
