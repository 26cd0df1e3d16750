package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ZapDesk/entity"
)

// ActiveConversations aggregates the console list over the messages
// collection: last message preview and recency, newest conversation
// first. The unread count per row is the number of inbound messages
// newer than the persisted read cursor, so a chat marked read reports
// zero until the customer writes again.
func (m *MongoDB) ActiveConversations(ctx context.Context, limit int) ([]entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	pipeline := mongo.Pipeline{
		// Sort by timestamp descending so $first gives the latest message
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversation_id"},
			{Key: "last_preview", Value: bson.D{{Key: "$first", Value: "$content"}}},
			{Key: "last_kind", Value: bson.D{{Key: "$first", Value: "$kind"}}},
			{Key: "last_message_at", Value: bson.D{{Key: "$first", Value: "$timestamp"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_message_at", Value: -1}}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "chat_id", Value: "$_id"},
			{Key: "last_preview", Value: 1},
			{Key: "last_message_at", Value: 1},
		}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodb aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []entity.Conversation
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongodb decode conversations: %w", err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	readAt, err := m.readCursors(ctx, connection)
	if err != nil {
		return nil, err
	}

	// Count unread past the read cursor and merge stored display
	// identities into the rows.
	identities := connection.Database(m.database).Collection(conversationsCollection)
	for i := range rows {
		unreadFilter := bson.D{
			{Key: "conversation_id", Value: rows[i].ChatID},
			{Key: "sender", Value: string(entity.RoleCustomer)},
		}
		if cursorAt, ok := readAt[rows[i].ChatID]; ok {
			unreadFilter = append(unreadFilter, bson.E{Key: "timestamp", Value: bson.D{{Key: "$gt", Value: cursorAt}}})
		}
		unread, err := collection.CountDocuments(ctx, unreadFilter)
		if err != nil {
			return nil, fmt.Errorf("mongodb count unread: %w", err)
		}
		rows[i].Unread = int(unread)

		var stored entity.Conversation
		err = identities.FindOne(ctx, bson.D{{Key: "chat_id", Value: rows[i].ChatID}}).Decode(&stored)
		if err != nil {
			if ferr := m.findError(err); ferr != nil {
				return nil, ferr
			}
			rows[i].Status = entity.StatusActive
			continue
		}
		rows[i].Name = stored.Name
		rows[i].Avatar = stored.Avatar
		rows[i].IsGroup = stored.IsGroup
		rows[i].Status = stored.Status
		if rows[i].Status == "" {
			rows[i].Status = entity.StatusActive
		}
	}
	return rows, nil
}

// readCursors loads the persisted per-chat read cursors off the unread
// document. A missing document means nothing was ever marked read.
func (m *MongoDB) readCursors(ctx context.Context, connection *mongo.Client) (entity.ReadCursors, error) {
	collection := connection.Database(m.database).Collection(unreadCollection)

	var doc unreadDoc
	err := collection.FindOne(ctx, bson.D{{Key: "_id", Value: unreadDocID}}).Decode(&doc)
	if err != nil {
		if ferr := m.findError(err); ferr != nil {
			return nil, ferr
		}
		return entity.ReadCursors{}, nil
	}
	if doc.ReadAt == nil {
		doc.ReadAt = entity.ReadCursors{}
	}
	return doc.ReadAt, nil
}

// SaveConversationIdentity upserts the stored display data for a chat.
func (m *MongoDB) SaveConversationIdentity(ctx context.Context, conv entity.Conversation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	filter := bson.D{{Key: "chat_id", Value: conv.ChatID}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "chat_id", Value: conv.ChatID},
		{Key: "name", Value: conv.Name},
		{Key: "avatar", Value: conv.Avatar},
		{Key: "is_group", Value: conv.IsGroup},
		{Key: "status", Value: conv.Status},
	}}}
	opts := options.Update().SetUpsert(true)

	if _, err = collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("mongodb upsert conversation: %w", err)
	}
	return nil
}
