// Package websocket provides the live consultation feed. It implements a
// hub-and-spoke pattern where each client is subscribed to the topics of the
// consultations it is party to and receives the events published there.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
)

// EventMessageCreated is published after a message is stored.
const EventMessageCreated = "message.created"

const (
	sendBuffer       = 256
	maxMessageSize   = 4096
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	authorizeTimeout = 5 * time.Second
)

// ConsultationTopic names the topic carrying a consultation's events.
func ConsultationTopic(consultationID int64) string {
	return "consultation:" + strconv.FormatInt(consultationID, 10)
}

// Event is a real-time notification sent to WebSocket clients.
type Event struct {
	Type           string          `json:"type"`
	Topic          string          `json:"topic"`
	ConsultationID int64           `json:"consultation_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action          string  `json:"action"`
	ConsultationIDs []int64 `json:"consultations"`
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Authorizer reports whether a user is party to a consultation. It returns
// nil when access is allowed and an apperror kind otherwise.
type Authorizer interface {
	AuthorizeParty(ctx context.Context, consultationID, userID int64) error
}

// Client is a single WebSocket connection.
type Client struct {
	ID     string
	UserID int64
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their topic subscriptions. All operations are safe
// for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(client, topic)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if _, ok := h.clients[topic][client]; ok {
			continue
		}
		h.addLocked(client, topic)
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.removeLocked(client, t)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) addLocked(client *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Broadcast sends an event to all clients subscribed to the topic. Clients
// whose buffer is full miss the event rather than block the publisher.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

// Publish broadcasts the event to subscribers of its topic on this instance.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// WebSocketHandler
// ---------------------------------------------------------------------------

// WebSocketHandler upgrades authorized requests and routes client messages.
type WebSocketHandler struct {
	hub      *Hub
	authz    Authorizer
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewWebSocketHandler creates a handler bound to hub. Cross-origin upgrades
// are accepted only from allowedOrigins; "*" accepts any origin.
func NewWebSocketHandler(hub *Hub, authz Authorizer, allowedOrigins []string, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:   hub,
		authz: authz,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// RegisterRoutes registers the WebSocket endpoint on the provided group.
func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect checks that the session user is party to the consultation
// named by the consultation query parameter, then upgrades the connection
// and subscribes the client to that consultation's topic.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	user := auth.UserFromContext(c.Request().Context())
	if user == nil {
		return c.Redirect(http.StatusFound, apperror.LoginPath)
	}

	consultationID, err := strconv.ParseInt(c.QueryParam("consultation"), 10, 64)
	if err != nil || consultationID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid consultation id")
	}
	if err := wsh.authz.AuthorizeParty(c.Request().Context(), consultationID, user.ID); err != nil {
		return apperror.ToHTTP(err)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: user.ID,
		Topics: []string{ConsultationTopic(consultationID)},
		Send:   make(chan []byte, sendBuffer),
	}
	wsh.hub.Register(client)
	wsh.logger.Debug().Str("client_id", client.ID).Int64("user_id", user.ID).
		Int64("consultation_id", consultationID).Msg("websocket connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

// ProcessMessage applies a client message. Subscriptions are granted only
// for consultations the client's user is party to.
func (wsh *WebSocketHandler) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		topics := make([]string, 0, len(msg.ConsultationIDs))
		for _, id := range msg.ConsultationIDs {
			if err := wsh.authz.AuthorizeParty(ctx, id, client.UserID); err != nil {
				wsh.logger.Info().Err(err).Str("client_id", client.ID).
					Int64("consultation_id", id).Msg("subscription refused")
				continue
			}
			topics = append(topics, ConsultationTopic(id))
		}
		wsh.hub.Subscribe(client, topics)
	case "unsubscribe":
		topics := make([]string, 0, len(msg.ConsultationIDs))
		for _, id := range msg.ConsultationIDs {
			topics = append(topics, ConsultationTopic(id))
		}
		wsh.hub.Unsubscribe(client, topics)
	}
}

func (wsh *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				wsh.logger.Debug().Err(err).Str("client_id", client.ID).Msg("websocket closed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		// The upgrade request's context ends once the handler returns.
		ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
		wsh.ProcessMessage(ctx, client, msg)
		cancel()
	}
}

func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
