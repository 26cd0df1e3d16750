package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"ZapDesk/console"
	"ZapDesk/entity"
	"ZapDesk/internal/lib/sl"
)

// SessionFactory builds a console session bound to a client's event
// sink. Injected from main so the hub stays free of storage wiring.
type SessionFactory func(sink console.EventSink) *console.Session

// Event is a WebSocket event sent to console clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active console clients and fans inbound
// transport events out to their sessions.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	factory    SessionFactory
	log        *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(factory SessionFactory, log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		factory:    factory,
		log:        log.With(sl.Module("ws.hub")),
	}
}

// Run starts the hub's event loop. Should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if err := client.session.Close(context.Background()); err != nil {
				h.log.Warn("session close", sl.Err(err))
			}
		}
	}
}

// HandleInboundMessage delivers a pushed message to every connected
// operator's session. Each session decides whether it lands in the
// active view or a background timeline.
func (h *Hub) HandleInboundMessage(msg entity.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.session.HandleMessage(msg)
	}
}

// HandleMessageUpdate delivers a partial message update to every
// session.
func (h *Hub) HandleMessageUpdate(u entity.MessageUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.session.HandleMessageUpdate(u)
	}
}

// ConversationActive reports whether any connected operator currently
// has the conversation open.
func (h *Hub) ConversationActive(chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.session.ActiveConversation() == chatID {
			return true
		}
	}
	return false
}

// BroadcastReadReceipt tells every client that an operator marked a
// chat as read, so other open consoles drop their badge too.
func (h *Hub) BroadcastReadReceipt(username, chatID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.sendEvent(Event{
			Type: "read_receipt",
			Data: map[string]string{
				"username": username,
				"chat_id":  chatID,
			},
		})
	}
}

// clientEvent is an incoming WebSocket message from a console client.
type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleClientMessage parses and dispatches an incoming message from a
// client to its session.
func (h *Hub) handleClientMessage(c *Client, raw []byte) {
	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.log.Warn("failed to parse client ws message", sl.Err(err))
		return
	}

	ctx := context.Background()

	switch event.Type {
	case "select_conversation":
		var data struct {
			ChatID string `json:"chat_id"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ChatID == "" {
			return
		}
		c.session.SelectConversation(ctx, data.ChatID)

	case "send_message":
		var draft entity.Draft
		if err := json.Unmarshal(event.Data, &draft); err != nil || draft.Content == "" {
			return
		}
		if _, err := c.session.SendMessage(ctx, draft); err != nil {
			h.log.Error("send message",
				slog.String("username", c.username),
				sl.Err(err),
			)
		}

	case "viewport":
		var v console.Viewport
		if err := json.Unmarshal(event.Data, &v); err != nil {
			return
		}
		c.session.ReportViewport(ctx, v)

	case "load_older":
		c.session.LoadOlderIfNeeded(ctx)

	case "mark_read":
		var data struct {
			ChatID string `json:"chat_id"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ChatID == "" {
			return
		}
		c.session.MarkRead(data.ChatID)
		h.BroadcastReadReceipt(c.username, data.ChatID)

	case "visible":
		var data struct {
			ChatID string `json:"chat_id"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ChatID == "" {
			return
		}
		c.session.NotifyRowVisible(ctx, data.ChatID)

	case "refresh":
		if err := c.session.RefreshConversations(ctx); err != nil {
			h.log.Error("refresh conversations", sl.Err(err))
		}
	}
}
