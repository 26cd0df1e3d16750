package entity

import (
	"strings"
	"time"
)

// MessageKind is the payload type of a chat message.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindVideo   MessageKind = "video"
	KindAudio   MessageKind = "audio"
	KindSticker MessageKind = "sticker"
	KindFile    MessageKind = "file"
)

// DeliveryState tracks how far a message got toward the network.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleAgent    SenderRole = "agent"
	RoleBot      SenderRole = "bot"
)

// Message represents a single chat event in a conversation timeline.
// ID holds a temporary identifier (temp- prefix) until the gateway
// acknowledges the send with the authoritative one.
type Message struct {
	ID             string        `json:"id" bson:"_id"`
	ConversationID string        `json:"conversation_id" bson:"conversation_id"`
	Content        string        `json:"content" bson:"content"`
	Kind           MessageKind   `json:"kind" bson:"kind"`
	MediaRef       string        `json:"media_ref,omitempty" bson:"media_ref,omitempty"`
	Sender         SenderRole    `json:"sender" bson:"sender"`
	Timestamp      time.Time     `json:"timestamp" bson:"timestamp"`
	Delivery       DeliveryState `json:"delivery" bson:"delivery"`
}

const tempIDPrefix = "temp-"

// IsOptimistic reports whether the message still carries a temporary id.
func (m Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, tempIDPrefix)
}

// Draft is user-authored content before it becomes a Message.
type Draft struct {
	Content  string      `json:"content" validate:"required"`
	Kind     MessageKind `json:"kind"`
	MediaRef string      `json:"media_ref,omitempty"`
}

// MessageUpdate is a partial update pushed by the transport for an
// already-known message (delivery transitions, media resolution).
type MessageUpdate struct {
	MessageID string         `json:"message_id"`
	Delivery  *DeliveryState `json:"delivery,omitempty"`
	MediaRef  *string        `json:"media_ref,omitempty"`
}
