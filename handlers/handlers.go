package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"zunify/auth"
	"zunify/config"
	"zunify/models"
	"zunify/player"
	"zunify/session"
)

const defaultPageSize = 50

// Catalog is the read side of the music service the UI browses.
type Catalog interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error)
	PlaylistTracks(ctx context.Context, playlistID string, limit int) ([]models.Track, error)
	AlbumTracks(ctx context.Context, albumID string) ([]models.Track, error)
	LikedTracks(ctx context.Context, limit int) ([]models.Track, error)
}

// Transport is the playback surface owned by the session.
type Transport interface {
	State() session.PlaybackState
	TogglePlay(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, volume float64) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	PlayContext(ctx context.Context, tracks []models.Track, startIndex int, contextID string) error
	ToggleLike(ctx context.Context) error
}

type Retrier interface {
	Retry(ctx context.Context, fn func(ctx context.Context) error) error
}

type LoginProvider interface {
	LoginURL() string
}

type Manager struct {
	creds     *auth.Credentials
	relay     LoginProvider
	catalog   Catalog
	transport Transport
	gateway   Retrier
	bridge    *player.Bridge
	upgrader  websocket.Upgrader
	logger    *log.Entry
}

func NewManager(creds *auth.Credentials, relay LoginProvider, catalog Catalog, transport Transport, gateway Retrier, bridge *player.Bridge) *Manager {
	return &Manager{
		creds:     creds,
		relay:     relay,
		catalog:   catalog,
		transport: transport,
		gateway:   gateway,
		bridge:    bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == config.Config.Relay.AppOrigin
			},
		},
		logger: log.WithFields(log.Fields{
			"module": "handlers",
		}),
	}
}

func (m *Manager) Register(router *gin.Engine) {
	router.GET("/auth/login", m.Login)
	router.GET("/auth/callback", m.Callback)
	router.POST("/auth/logout", m.Logout)

	router.GET("/session", m.Session)
	router.GET("/ws", m.PlayerSocket)

	router.POST("/player/play", m.Play)
	router.POST("/player/toggle", m.Toggle)
	router.POST("/player/next", m.Next)
	router.POST("/player/previous", m.Previous)
	router.POST("/player/seek", m.Seek)
	router.POST("/player/volume", m.Volume)
	router.POST("/player/like", m.Like)

	router.GET("/search", m.Search)
	router.GET("/playlists/:id/tracks", m.PlaylistTracks)
	router.GET("/albums/:id/tracks", m.AlbumTracks)
	router.GET("/me/tracks", m.LikedTracks)
}

// Login bounces the browser to the relay, which owns the authorization-code
// exchange end to end.
func (m *Manager) Login(c *gin.Context) {
	c.Redirect(http.StatusTemporaryRedirect, m.relay.LoginURL())
}

// Callback receives the relay's post-exchange redirect carrying the first
// access token, stores it, and sends the browser back to the app.
func (m *Manager) Callback(c *gin.Context) {
	accessToken := c.Query("access_token")
	if accessToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing access_token"})
		return
	}
	expiresIn, err := strconv.Atoi(c.DefaultQuery("expires_in", "3600"))
	if err != nil || expiresIn <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires_in"})
		return
	}

	m.creds.Set(auth.Credential{
		Value:     accessToken,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	})
	m.logger.Info("credential stored from login callback")

	c.Redirect(http.StatusTemporaryRedirect, config.Config.Relay.AppOrigin)
}

func (m *Manager) Logout(c *gin.Context) {
	m.creds.Clear()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (m *Manager) Session(c *gin.Context) {
	c.JSON(http.StatusOK, m.transport.State())
}

// PlayerSocket upgrades to the websocket the in-page player bridges over.
func (m *Manager) PlayerSocket(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	// the page names its player instance from this
	if err := conn.WriteJSON(gin.H{"type": "config", "player_name": config.Config.Session.PlayerName}); err != nil {
		m.logger.Errorf("failed to send player config: %v", err)
		conn.Close()
		return
	}
	m.bridge.Attach(conn)
}

type playRequest struct {
	Tracks     []models.Track `json:"tracks" binding:"required"`
	StartIndex int            `json:"start_index"`
	ContextID  string         `json:"context_id"`
}

func (m *Manager) Play(c *gin.Context) {
	var req playRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid play request"})
		return
	}
	if len(req.Tracks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tracks must not be empty"})
		return
	}
	if err := m.transport.PlayContext(c.Request.Context(), req.Tracks, req.StartIndex, req.ContextID); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

func (m *Manager) Toggle(c *gin.Context) {
	if err := m.transport.TogglePlay(c.Request.Context()); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

func (m *Manager) Next(c *gin.Context) {
	if err := m.transport.Next(c.Request.Context()); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

func (m *Manager) Previous(c *gin.Context) {
	if err := m.transport.Previous(c.Request.Context()); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

type seekRequest struct {
	PositionMs int `json:"position_ms"`
}

func (m *Manager) Seek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seek request"})
		return
	}
	if err := m.transport.Seek(c.Request.Context(), req.PositionMs); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

func (m *Manager) Volume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid volume request"})
		return
	}
	if err := m.transport.SetVolume(c.Request.Context(), req.Volume); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

func (m *Manager) Like(c *gin.Context) {
	if err := m.transport.ToggleLike(c.Request.Context()); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.transport.State())
}

func (m *Manager) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	m.browse(c, func(ctx context.Context) ([]models.Track, error) {
		return m.catalog.SearchTracks(ctx, query, m.limit(c))
	})
}

func (m *Manager) PlaylistTracks(c *gin.Context) {
	id := c.Param("id")
	m.browse(c, func(ctx context.Context) ([]models.Track, error) {
		return m.catalog.PlaylistTracks(ctx, id, m.limit(c))
	})
}

func (m *Manager) AlbumTracks(c *gin.Context) {
	id := c.Param("id")
	m.browse(c, func(ctx context.Context) ([]models.Track, error) {
		return m.catalog.AlbumTracks(ctx, id)
	})
}

func (m *Manager) LikedTracks(c *gin.Context) {
	m.browse(c, func(ctx context.Context) ([]models.Track, error) {
		return m.catalog.LikedTracks(ctx, m.limit(c))
	})
}

// browse runs a catalog read under the credential retry policy and renders
// the track list.
func (m *Manager) browse(c *gin.Context, fetch func(ctx context.Context) ([]models.Track, error)) {
	var tracks []models.Track
	err := m.gateway.Retry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		tracks, err = fetch(ctx)
		return err
	})
	if err != nil {
		m.respondError(c, err)
		return
	}
	if tracks == nil {
		tracks = []models.Track{}
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func (m *Manager) limit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > defaultPageSize {
		return defaultPageSize
	}
	return limit
}

// respondError maps domain errors onto the HTTP surface. A fatal auth error
// carries the login URL so the UI can restart the flow directly.
func (m *Manager) respondError(c *gin.Context, err error) {
	switch {
	case auth.IsFatalAuth(err), auth.IsUnauthorized(err):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":     "session expired, please log in again",
			"login_url": m.relay.LoginURL(),
		})
	case auth.IsRateLimited(err):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited, try again later"})
	case errors.Is(err, player.ErrNoDevice):
		c.JSON(http.StatusConflict, gin.H{"error": "no active playback device"})
	case errors.Is(err, session.ErrNoTrack):
		c.JSON(http.StatusConflict, gin.H{"error": "no track is currently loaded"})
	default:
		m.logger.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
