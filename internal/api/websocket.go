package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fieldlink-core/internal/auth"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/logging"
)

// Frame types on the /api/v1/ws event stream.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "response"
	FrameError       = "error"

	listenerQueueSize = 256
)

// Frame is one JSON message on the event stream, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ChannelList is the payload of subscribe and unsubscribe frames.
type ChannelList struct {
	Channels []string `json:"channels"`
}

// ClientScoped is implemented by event payloads that concern a single
// device. Non-admin listeners only receive events for devices they own.
// Events without a client ID are delivered to admins only.
type ClientScoped interface {
	EventClientID() string
}

// visibility is the set of devices one listener may hear about.
type visibility struct {
	subjectID string
	admin     bool
	clientIDs map[string]struct{}
}

func (v visibility) allows(clientID string) bool {
	if v.admin {
		return true
	}
	if clientID == "" {
		return false
	}
	_, ok := v.clientIDs[clientID]
	return ok
}

// Hub fans device events out to connected listeners.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu        sync.RWMutex
	listeners map[*listener]struct{}
}

type listener struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
	vis  visibility

	mu       sync.RWMutex
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Listeners authenticate with a bearer token, never cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an event hub with no listeners.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[*listener]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every listener.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		close(l.out)
		if l.conn != nil {
			l.conn.Close()
		}
		delete(h.listeners, l)
	}
}

func (h *Hub) add(l *listener) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	n := len(h.listeners)
	h.mu.Unlock()
	h.logger.Debug("event listener connected", "subject_id", l.vis.subjectID, "admin", l.vis.admin, "listeners", n)
}

// remove closes the listener's queue once, whichever of Run or the read
// loop gets there first.
func (h *Hub) remove(l *listener) {
	h.mu.Lock()
	_, ok := h.listeners[l]
	delete(h.listeners, l)
	n := len(h.listeners)
	h.mu.Unlock()

	if ok {
		close(l.out)
	}
	h.logger.Debug("event listener disconnected", "subject_id", l.vis.subjectID, "listeners", n)
}

// Broadcast delivers an event to listeners subscribed to channel that may
// see the device it concerns. It satisfies the EventSink interfaces of
// ingest and automation.
func (h *Hub) Broadcast(channel string, payload any) {
	var clientID string
	if scoped, ok := payload.(ClientScoped); ok {
		clientID = scoped.EventClientID()
	}

	h.mu.RLock()
	targets := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		if l.vis.allows(clientID) && l.subscribed(channel) {
			targets = append(targets, l)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding event failed", "channel", channel, "error", err)
		return
	}
	for _, l := range targets {
		l.enqueue(data)
	}
	h.logger.Debug("event delivered", "channel", channel, "client_id", clientID, "listeners", len(targets))
}

// ClientCount returns the number of connected listeners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// handleWebSocket upgrades an authenticated request to an event stream.
// Device ownership is resolved once, at connect time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "access token is required")
		return
	}

	vis, err := s.visibilityFor(r.Context(), id)
	if err != nil {
		s.logger.Error("resolving owned devices failed", "subject_id", id.SubjectID, "error", err)
		writeInternalError(w, "could not resolve device ownership")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	l := &listener{
		hub:      s.hub,
		conn:     conn,
		out:      make(chan []byte, listenerQueueSize),
		vis:      vis,
		channels: make(map[string]struct{}),
	}
	s.hub.add(l)

	go l.writeLoop(s.wsCfg)
	go l.readLoop(s.wsCfg)
}

func (s *Server) visibilityFor(ctx context.Context, id auth.Identity) (visibility, error) {
	vis := visibility{subjectID: id.SubjectID, admin: id.IsAdmin}
	if id.IsAdmin {
		return vis, nil
	}
	owned, err := s.devices.ListOwnedDevices(ctx, id.SubjectID)
	if err != nil {
		return vis, err
	}
	vis.clientIDs = make(map[string]struct{}, len(owned))
	for _, d := range owned {
		vis.clientIDs[d.ClientID] = struct{}{}
	}
	return vis, nil
}

func (l *listener) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		l.hub.remove(l)
		l.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	l.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Read error surfaces on the next ReadMessage
	l.conn.SetReadDeadline(time.Now().Add(idle))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.hub.logger.Warn("event stream read failed", "subject_id", l.vis.subjectID, "error", err)
			}
			return
		}
		// Application pings count as liveness too.
		//nolint:errcheck // Read error surfaces on the next ReadMessage
		l.conn.SetReadDeadline(time.Now().Add(idle))
		l.handleFrame(data)
	}
}

func (l *listener) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-l.out:
			if !ok {
				//nolint:errcheck // Connection is going away regardless
				l.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Write error caught below
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (l *listener) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		l.fail("", "invalid JSON message")
		return
	}

	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe:
		l.updateChannels(f)
	case FramePing:
		l.reply(f.ID, FramePong, nil)
	default:
		l.fail(f.ID, "unknown message type: "+f.Type)
	}
}

func (l *listener) updateChannels(f Frame) {
	raw, err := json.Marshal(f.Payload)
	if err != nil {
		l.fail(f.ID, "invalid payload")
		return
	}
	var list ChannelList
	if err := json.Unmarshal(raw, &list); err != nil {
		l.fail(f.ID, "invalid "+f.Type+" payload")
		return
	}

	l.mu.Lock()
	for _, ch := range list.Channels {
		if f.Type == FrameSubscribe {
			l.channels[ch] = struct{}{}
		} else {
			delete(l.channels, ch)
		}
	}
	l.mu.Unlock()

	key := "subscribed"
	if f.Type == FrameUnsubscribe {
		key = "unsubscribed"
	}
	l.hub.logger.Debug("event listener "+key, "subject_id", l.vis.subjectID, "channels", list.Channels)
	l.reply(f.ID, FrameAck, map[string]any{key: list.Channels})
}

func (l *listener) subscribed(channel string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.channels[channel]
	return ok
}

// enqueue drops the frame if the listener is slow or already gone.
func (l *listener) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Queue closed by a concurrent remove
	}()
	select {
	case l.out <- data:
	default:
	}
}

func (l *listener) reply(id, frameType string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	l.enqueue(data)
}

func (l *listener) fail(id, message string) {
	l.reply(id, FrameError, map[string]string{"message": message})
}
