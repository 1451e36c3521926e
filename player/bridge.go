package player

import (
	"encoding/json"
	"errors"
	"sync"

	sentry "github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ErrNoDevice means no SDK page is currently connected to the bridge.
var ErrNoDevice = errors.New("no player connection")

// outbound is the frame sent to the SDK page: a transport command, a token
// reply, or a state push for the UI.
type outbound struct {
	Type        string      `json:"type"`
	Command     string      `json:"command,omitempty"`
	PositionMs  int         `json:"position_ms,omitempty"`
	Volume      float64     `json:"volume,omitempty"`
	AccessToken string      `json:"access_token,omitempty"`
	State       interface{} `json:"state,omitempty"`
}

// Bridge carries the SDK boundary over a websocket. The browser page runs
// the actual vendor player and relays its events here; commands flow the
// other way. Only one SDK connection is live at a time; a new page replaces
// the previous one.
type Bridge struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	logger *log.Entry
}

func NewBridge() *Bridge {
	return &Bridge{
		events: make(chan Event, 100),
		logger: log.WithFields(log.Fields{
			"module": "player",
		}),
	}
}

func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Attach takes over a freshly upgraded connection and blocks reading events
// from it until the page goes away. The previous connection, if any, is
// closed.
func (b *Bridge) Attach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn != nil {
		b.logger.Debug("replacing existing player connection")
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	b.logger.Info("player page connected")
	b.readLoop(conn)
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				b.mu.Unlock()
				b.logger.Infof("player page disconnected: %v", err)
				b.emit(Event{Type: EventDisconnected})
			} else {
				// already replaced by a newer page
				b.mu.Unlock()
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			b.logger.Warnf("discarding malformed player event: %v", err)
			continue
		}
		if event.Type == "" {
			b.logger.Warn("discarding player event with no type")
			continue
		}
		b.emit(event)
	}
}

func (b *Bridge) emit(event Event) {
	select {
	case b.events <- event:
	default:
		msg := "player event channel is full, dropping " + string(event.Type)
		sentry.CaptureMessage(msg)
		b.logger.Warn(msg)
	}
}

func (b *Bridge) send(frame outbound) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ErrNoDevice
	}
	if err := b.conn.WriteJSON(frame); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) TogglePlay() error {
	return b.send(outbound{Type: "command", Command: "toggle_play"})
}

func (b *Bridge) Seek(positionMs int) error {
	return b.send(outbound{Type: "command", Command: "seek", PositionMs: positionMs})
}

func (b *Bridge) SetVolume(volume float64) error {
	return b.send(outbound{Type: "command", Command: "set_volume", Volume: volume})
}

func (b *Bridge) SendToken(accessToken string) error {
	return b.send(outbound{Type: "token", AccessToken: accessToken})
}

// PushState fans a committed playback state out to the page so the UI stays
// live without polling.
func (b *Bridge) PushState(state interface{}) {
	if err := b.send(outbound{Type: "state", State: state}); err != nil && !errors.Is(err, ErrNoDevice) {
		b.logger.Warnf("failed to push state: %v", err)
	}
}

func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.WriteJSON(outbound{Type: "command", Command: "disconnect"})
	b.conn.Close()
	b.conn = nil
	return err
}
