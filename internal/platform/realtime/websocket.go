package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// ClientMessage is an inbound message from a browser. Topics are dataset names.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is a single WebSocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
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
		h.removeClientLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) removeClientLocked(topic string, client *Client) {
	if set, ok := h.clients[topic]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage applies a subscribe or unsubscribe request from a client.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	switch msg.Action {
	case "subscribe":
		for _, topic := range msg.Topics {
			if h.clients[topic] == nil {
				h.clients[topic] = make(map[*Client]struct{})
			}
			if _, dup := h.clients[topic][client]; !dup {
				client.Topics = append(client.Topics, topic)
			}
			h.clients[topic][client] = struct{}{}
		}
	case "unsubscribe":
		drop := make(map[string]struct{}, len(msg.Topics))
		for _, topic := range msg.Topics {
			drop[topic] = struct{}{}
			h.removeClientLocked(topic, client)
		}
		remaining := client.Topics[:0]
		for _, t := range client.Topics {
			if _, rm := drop[t]; !rm {
				remaining = append(remaining, t)
			}
		}
		client.Topics = remaining
	}
}

func (h *Hub) broadcast(change Change) {
	data, err := json.Marshal(change)
	if err != nil {
		h.logger.Error().Err(err).Str("dataset", change.Dataset).Msg("marshal change")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[change.Dataset] {
		select {
		case client.Send <- data:
		default:
			// Slow browsers re-fetch on their own; never block the feed.
			if h.onDrop != nil {
				h.onDrop(change.Dataset)
			}
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
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

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections bound to a Hub.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (wsh *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection and subscribes it to the datasets
// named in the "topics" query parameter (repeatable).
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: append([]string{}, c.QueryParams()["topics"]...),
		Send:   make(chan []byte, 256),
	}
	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
