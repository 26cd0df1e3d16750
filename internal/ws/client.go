package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ZapDesk/console"
	"ZapDesk/entity"
	"ZapDesk/internal/lib/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a single WebSocket connection from a console
// operator. It doubles as the session's event sink: timeline and
// conversation updates are queued onto the send channel as JSON.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	username string
	session  *console.Session
}

// sendEvent marshals an event and queues it for delivery. A full send
// buffer means the client stopped reading, so the message is dropped
// rather than blocking the session.
func (c *Client) sendEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.hub.log.Error("failed to marshal ws event", sl.Err(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("ws send buffer full, dropping event",
			slog.String("username", c.username),
			slog.String("type", event.Type),
		)
	}
}

// timelinePayload is the outbound shape for a timeline change.
type timelinePayload struct {
	ChatID    string            `json:"chat_id"`
	Messages  []entity.Message  `json:"messages"`
	Directive console.Directive `json:"directive"`
}

// TimelineChanged implements console.EventSink.
func (c *Client) TimelineChanged(chatID string, messages []entity.Message, directive console.Directive) {
	c.sendEvent(Event{
		Type: "timeline",
		Data: timelinePayload{
			ChatID:    chatID,
			Messages:  messages,
			Directive: directive,
		},
	})
}

// ConversationsChanged implements console.EventSink.
func (c *Client) ConversationsChanged(conversations []entity.Conversation) {
	c.sendEvent(Event{
		Type: "conversation_list",
		Data: conversations,
	})
}

// MessageUpdated implements console.EventSink.
func (c *Client) MessageUpdated(chatID string, msg entity.Message) {
	c.sendEvent(Event{
		Type: "message_update",
		Data: map[string]any{
			"chat_id": chatID,
			"message": msg,
		},
	})
}

// readPump pumps messages from the WebSocket connection to the hub.
// It handles ping/pong keepalive and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.hub.handleClientMessage(c, raw)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Authenticator validates an API key and returns the username.
type Authenticator interface {
	CheckApiKey(key string) (string, error)
}

// ServeWs handles WebSocket upgrade requests for console clients.
func ServeWs(hub *Hub, auth Authenticator, log *slog.Logger, w http.ResponseWriter, r *http.Request) {
	// Auth: read API key from query param
	key := r.URL.Query().Get("token")
	if key == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	username, err := auth.CheckApiKey(key)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", sl.Err(err))
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		username: username,
	}
	client.session = hub.factory(client)

	hub.register <- client

	go client.writePump()
	go client.readPump()

	// Push the conversation list so the console renders without an
	// explicit refresh round trip.
	go func() {
		if err := client.session.RefreshConversations(context.Background()); err != nil {
			hub.log.Error("initial conversation load", sl.Err(err))
		}
	}()
}
