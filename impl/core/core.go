package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ZapDesk/console"
	"ZapDesk/entity"
	"ZapDesk/internal/lib/sl"
)

type Repository interface {
	CheckApiKey(key string) (string, error)
	SaveMessage(ctx context.Context, msg entity.Message) (bool, error)
	DeleteMessage(ctx context.Context, id string) error
	UpdateMessage(ctx context.Context, u entity.MessageUpdate) error
	MessagesBefore(ctx context.Context, chatID string, before time.Time, limit int) ([]entity.Message, error)
	ActiveConversations(ctx context.Context, limit int) ([]entity.Conversation, error)
	SaveConversationIdentity(ctx context.Context, conv entity.Conversation) error
}

// Broadcaster fans transport events out to connected console clients.
type Broadcaster interface {
	HandleInboundMessage(msg entity.Message)
	HandleMessageUpdate(u entity.MessageUpdate)
	BroadcastReadReceipt(username, chatID string)
	ConversationActive(chatID string) bool
}

// Core glues the transport, the repository and the connected consoles
// together. It receives pushes from the messaging gateway, persists
// them, and fans them out; it also backs the REST handlers.
type Core struct {
	log       *slog.Logger
	repo      Repository
	transport console.Transport
	hub       Broadcaster
	ledger    *console.Ledger
	cache     *console.Cache
	authKey   string
}

func New(log *slog.Logger) *Core {
	return &Core{
		log: log.With(sl.Module("core")),
	}
}

func (c *Core) SetRepository(repo Repository)    { c.repo = repo }
func (c *Core) SetTransport(t console.Transport) { c.transport = t }
func (c *Core) SetHub(hub Broadcaster)           { c.hub = hub }
func (c *Core) SetLedger(ledger *console.Ledger) { c.ledger = ledger }
func (c *Core) SetCache(cache *console.Cache)    { c.cache = cache }
func (c *Core) SetAuthKey(key string)            { c.authKey = key }

// CheckApiKey resolves an API key to a username. The configured
// master key authenticates as admin even without a repository.
func (c *Core) CheckApiKey(key string) (string, error) {
	if c.authKey != "" && key == c.authKey {
		return "admin", nil
	}
	if c.repo == nil {
		return "", fmt.Errorf("repository not available")
	}
	return c.repo.CheckApiKey(key)
}

// Conversations returns the recency-ordered conversation list.
func (c *Core) Conversations(ctx context.Context, limit int) ([]entity.Conversation, error) {
	if c.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	return c.repo.ActiveConversations(ctx, limit)
}

// Messages returns one history page for a conversation, oldest-first.
// A zero before time means the latest page.
func (c *Core) Messages(ctx context.Context, chatID string, before time.Time, limit int) ([]entity.Message, error) {
	if c.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	return c.repo.MessagesBefore(ctx, chatID, before, limit)
}

// SendMessage sends a draft over the transport on behalf of a REST
// caller. The acknowledged message is persisted and fanned out to
// connected consoles once the gateway confirms it.
func (c *Core) SendMessage(ctx context.Context, chatID string, draft entity.Draft) error {
	if c.transport == nil {
		return fmt.Errorf("transport not available")
	}

	return c.transport.Send(ctx, chatID, draft, func(server entity.Message, err error) {
		if err != nil {
			c.log.Error("send message",
				slog.String("chat_id", chatID),
				sl.Err(err),
			)
			return
		}
		c.persist(server)
		if c.hub != nil {
			c.hub.HandleInboundMessage(server)
		}
	})
}

// MarkRead zeroes a conversation's unread counter and tells every
// open console about it.
func (c *Core) MarkRead(username, chatID string) {
	if c.ledger != nil {
		c.ledger.MarkRead(chatID)
	}
	if c.hub != nil {
		c.hub.BroadcastReadReceipt(username, chatID)
	}
}

// UnreadCounts returns the current unread table.
func (c *Core) UnreadCounts() entity.UnreadTable {
	if c.ledger == nil {
		return entity.UnreadTable{}
	}
	return c.ledger.Snapshot()
}

// ResolveIdentity looks up display data for a key through the shared
// enrichment cache, deduplicating with any in-flight resolution.
func (c *Core) ResolveIdentity(ctx context.Context, key string) (entity.Identity, error) {
	if c.cache == nil {
		return entity.Identity{}, fmt.Errorf("enrichment not available")
	}
	return c.cache.Resolve(ctx, key)
}

// PrimeIdentity writes an authoritative display identity into the
// cache and persists it on the conversation record.
func (c *Core) PrimeIdentity(ctx context.Context, key, name, avatar string) (entity.Identity, error) {
	if c.cache == nil {
		return entity.Identity{}, fmt.Errorf("enrichment not available")
	}
	id := c.cache.Prime(key, entity.Identity{Name: name, Avatar: avatar})
	if c.repo != nil {
		err := c.repo.SaveConversationIdentity(ctx, entity.Conversation{
			ChatID: key,
			Name:   id.Name,
			Avatar: id.Avatar,
		})
		if err != nil {
			return id, err
		}
	}
	return id, nil
}

// HandleInboundMessage implements the gateway listener: persist the
// pushed message, count it against the unread ledger, then fan it out
// to every connected console. The ledger is process-wide and sessions
// only read it, so counting here keeps one message at one increment no
// matter how many operators are connected.
func (c *Core) HandleInboundMessage(msg entity.Message) {
	if c.persist(msg) {
		c.noteUnread(msg)
	}
	if c.hub != nil {
		c.hub.HandleInboundMessage(msg)
	}
}

// noteUnread bumps the counter for a fresh inbound customer message. A
// chat some operator is looking at right now is read on arrival.
func (c *Core) noteUnread(msg entity.Message) {
	if c.ledger == nil || msg.Sender != entity.RoleCustomer {
		return
	}
	if c.hub != nil && c.hub.ConversationActive(msg.ConversationID) {
		return
	}
	c.ledger.Increment(msg.ConversationID)
}

// HandleMessageUpdate implements the gateway listener for delivery
// status changes.
func (c *Core) HandleMessageUpdate(u entity.MessageUpdate) {
	if c.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.repo.UpdateMessage(ctx, u); err != nil {
			c.log.Warn("update message", slog.String("id", u.MessageID), sl.Err(err))
		}
	}
	if c.hub != nil {
		c.hub.HandleMessageUpdate(u)
	}
}

// persist upserts the message and reports whether it is new to the
// process. Without a repository (or on a failed write) every message
// counts as new; the timeline's own dedup still protects the view.
func (c *Core) persist(msg entity.Message) bool {
	if c.repo == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inserted, err := c.repo.SaveMessage(ctx, msg)
	if err != nil {
		c.log.Warn("save message", slog.String("id", msg.ID), sl.Err(err))
		return true
	}
	return inserted
}
