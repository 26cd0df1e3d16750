package chats

import (
	"context"
	"time"

	"ZapDesk/entity"
)

type Core interface {
	Conversations(ctx context.Context, limit int) ([]entity.Conversation, error)
	Messages(ctx context.Context, chatID string, before time.Time, limit int) ([]entity.Message, error)
	SendMessage(ctx context.Context, chatID string, draft entity.Draft) error
	MarkRead(username, chatID string)
	UnreadCounts() entity.UnreadTable
}
