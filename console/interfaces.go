package console

import (
	"context"
	"time"

	"ZapDesk/entity"
)

// AckFunc is invoked by the transport once a send is acknowledged. On
// success server carries the authoritative id, timestamp and delivery
// state; on failure err is set and server is the zero Message.
type AckFunc func(server entity.Message, err error)

// Transport sends outgoing messages to the messaging network. Inbound
// events arrive separately through Session.HandleMessage and
// Session.HandleMessageUpdate, fed by the gateway webhook.
type Transport interface {
	Send(ctx context.Context, conversationID string, draft entity.Draft, ack AckFunc) error
}

// HistoryStore fetches persisted message pages for a conversation.
// A zero before time means "the latest page". Results are returned
// oldest-first.
type HistoryStore interface {
	MessagesBefore(ctx context.Context, chatID string, before time.Time, limit int) ([]entity.Message, error)
}

// ConversationStore lists conversation summaries for the console list.
type ConversationStore interface {
	ActiveConversations(ctx context.Context, limit int) ([]entity.Conversation, error)
}

// IdentityResolver looks up display data (avatar, title) for one
// identity key. No latency guarantee; callers go through the Cache.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, key string) (entity.Identity, error)
}

// UnreadStore persists the per-owner unread state: the counter table
// plus the read cursors that keep server-side recounts honest. Writes
// are fire-and-forget from the ledger's perspective except Flush.
type UnreadStore interface {
	ReadState(ctx context.Context) (entity.UnreadTable, entity.ReadCursors, error)
	WriteState(ctx context.Context, table entity.UnreadTable, readAt entity.ReadCursors) error
}

// EventSink receives rendered state changes for delivery to the
// operator's client. Implementations must not call back into the
// session from within a sink method.
type EventSink interface {
	TimelineChanged(chatID string, messages []entity.Message, directive Directive)
	ConversationsChanged(conversations []entity.Conversation)
	MessageUpdated(chatID string, msg entity.Message)
}
