package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ZapDesk/entity"
)

// SaveMessage upserts a message by id and reports whether the document
// is new. A redelivered webhook hits the same id and updates in place,
// which callers use to keep unread accounting idempotent. Promotion
// overwrites the optimistic document when both were persisted.
func (m *MongoDB) SaveMessage(ctx context.Context, msg entity.Message) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	filter := bson.D{{Key: "_id", Value: msg.ID}}
	update := bson.D{{Key: "$set", Value: msg}}
	opts := options.Update().SetUpsert(true)

	res, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return false, fmt.Errorf("mongodb upsert message: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// DeleteMessage removes a message document, used when an optimistic
// entry is replaced by its acknowledged form under a new id.
func (m *MongoDB) DeleteMessage(ctx context.Context, id string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	if _, err = collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("mongodb delete message: %w", err)
	}
	return nil
}

// UpdateMessage applies a partial update to a stored message. Unset
// fields are left untouched.
func (m *MongoDB) UpdateMessage(ctx context.Context, u entity.MessageUpdate) error {
	set := bson.D{}
	if u.Delivery != nil {
		set = append(set, bson.E{Key: "delivery", Value: *u.Delivery})
	}
	if u.MediaRef != nil {
		set = append(set, bson.E{Key: "media_ref", Value: *u.MediaRef})
	}
	if len(set) == 0 {
		return nil
	}

	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	filter := bson.D{{Key: "_id", Value: u.MessageID}}
	if _, err = collection.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}}); err != nil {
		return fmt.Errorf("mongodb update message: %w", err)
	}
	return nil
}

// MessagesBefore returns one page of a conversation's history:
// the newest limit messages older than before (zero before means the
// latest page), ordered oldest-first for rendering.
func (m *MongoDB) MessagesBefore(ctx context.Context, chatID string, before time.Time, limit int) ([]entity.Message, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	filter := bson.D{{Key: "conversation_id", Value: chatID}}
	if !before.IsZero() {
		filter = append(filter, bson.E{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: before}}})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var page []entity.Message
	if err = cursor.All(ctx, &page); err != nil {
		return nil, fmt.Errorf("mongodb decode messages: %w", err)
	}

	// Reverse the newest-first page into render order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}
