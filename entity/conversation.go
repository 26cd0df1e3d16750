package entity

import "time"

// ConversationStatus is the CRM handling state of a chat thread.
type ConversationStatus string

const (
	StatusActive  ConversationStatus = "active"
	StatusWaiting ConversationStatus = "waiting"
	StatusClosed  ConversationStatus = "closed"
)

// Conversation is one chat thread as shown in the console list.
type Conversation struct {
	ChatID        string             `json:"chat_id" bson:"chat_id"`
	Name          string             `json:"name" bson:"name"`
	Avatar        string             `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Status        ConversationStatus `json:"status" bson:"status"`
	Unread        int                `json:"unread" bson:"unread"`
	LastPreview   string             `json:"last_preview" bson:"last_preview"`
	LastMessageAt time.Time          `json:"last_message_at" bson:"last_message_at"`
	IsGroup       bool               `json:"is_group" bson:"is_group"`
}

// Identity is resolved display data for one chat or participant key.
// Empty fields mean "resolved to nothing" once ResolvedAt is set.
type Identity struct {
	Key        string    `json:"key" bson:"key"`
	Name       string    `json:"name,omitempty" bson:"name,omitempty"`
	Avatar     string    `json:"avatar,omitempty" bson:"avatar,omitempty"`
	ResolvedAt time.Time `json:"resolved_at" bson:"resolved_at"`
}

// UnreadTable maps chat ids to unread counters for one console owner.
type UnreadTable map[string]int

// ReadCursors maps chat ids to the moment the owner last marked the
// chat as read. Messages at or before the cursor never count as
// unread, no matter where the counting happens.
type ReadCursors map[string]time.Time
