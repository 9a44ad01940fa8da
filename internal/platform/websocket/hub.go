// Package websocket pushes lab request changes to connected lab boards.
// Clients subscribe to topics (every request, one branch or one request)
// and receive a JSON event for each stored change on those topics.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/labtracker/internal/domain/labrequest"
	"github.com/ehr/labtracker/internal/platform/auth"
)

// TopicAll receives every change.
const TopicAll = "lab-requests"

// BranchTopic is the topic for changes to requests of one branch. Branch
// names match case-insensitively.
func BranchTopic(branch string) string {
	return "branch/" + strings.ToLower(strings.TrimSpace(branch))
}

// RequestTopic is the topic for changes to a single lab request.
func RequestTopic(id string) string {
	return TopicAll + "/" + id
}

// Event is the message sent to clients. Data carries the request view after
// the change.
type Event struct {
	Type      labrequest.ChangeKind  `json:"type"`
	Topic     string                 `json:"topic"`
	RequestID string                 `json:"request_id"`
	Branch    string                 `json:"branch"`
	OrderID   string                 `json:"order_id,omitempty"`
	From      labrequest.OrderStatus `json:"from,omitempty"`
	To        labrequest.OrderStatus `json:"to,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      json.RawMessage        `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Conn abstracts a websocket connection for tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.add(topic, client)
	}
}

func (h *Hub) add(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) remove(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Unregister drops the client from every topic and closes its Send channel.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if _, ok := h.clients[topic][client]; ok {
			continue
		}
		h.add(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
		h.remove(t, client)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, ok := drop[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage applies a subscribe or unsubscribe message. Other actions
// are ignored.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends event to the subscribers of topic. Clients whose buffer
// is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	event.Topic = topic
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal live event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("live client buffer full, event dropped")
		}
	}
}

// Publish fans a stored change out to the all, branch and request topics.
func (h *Hub) Publish(_ context.Context, c labrequest.Change) {
	if c.Request == nil {
		return
	}
	data, err := json.Marshal(labrequest.NewView(c.Request))
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", c.Request.ID).Msg("marshal lab request view")
		return
	}
	event := Event{
		Type:      c.Kind,
		RequestID: c.Request.ID,
		Branch:    c.Request.Branch,
		OrderID:   c.OrderID,
		From:      c.From,
		To:        c.To,
		Timestamp: h.now(),
		Data:      data,
	}
	h.Broadcast(TopicAll, event)
	h.Broadcast(BranchTopic(c.Request.Branch), event)
	h.Broadcast(RequestTopic(c.Request.ID), event)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// -- HTTP --

// Handler upgrades lab staff connections to websockets.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts browser origins from allowedOrigins; "*" or an empty
// list accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/lab-requests/live", h.Connect, auth.RequireRole(auth.LabStaff...))
}

// initialTopics subscribes to ?branch= and ?request_id= when given, and to
// every change otherwise.
func initialTopics(c echo.Context) []string {
	var topics []string
	if b := c.QueryParam("branch"); b != "" && !strings.EqualFold(b, "all") {
		topics = append(topics, BranchTopic(b))
	}
	if id := c.QueryParam("request_id"); id != "" {
		topics = append(topics, RequestTopic(id))
	}
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}
	return topics
}

// Connect upgrades the request, registers the client and starts its pumps.
func (h *Handler) Connect(c echo.Context) error {
	topics := initialTopics(c)
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    h.hub,
		conn:   &gorillaConn{ws},
	}
	h.hub.Register(client)
	h.hub.logger.Debug().
		Str("client_id", client.ID).
		Str("user_id", auth.UserIDFromContext(c.Request().Context())).
		Strs("topics", topics).
		Msg("live client connected")

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}

type gorillaConn struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConn) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConn) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConn) Close() error {
	return a.conn.Close()
}
