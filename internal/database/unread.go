package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ZapDesk/entity"
)

// The unread state is stored as a single document: the ledger already
// coalesces mutations, so one write replaces the whole thing. The read
// cursors live next to the counters because ActiveConversations needs
// them to bound its per-chat recount.

const unreadDocID = "unread-table"

type unreadDoc struct {
	ID     string             `bson:"_id"`
	Table  entity.UnreadTable `bson:"table"`
	ReadAt entity.ReadCursors `bson:"read_at"`
}

// ReadState loads the persisted unread counters and read cursors. A
// missing document is empty state, not an error.
func (m *MongoDB) ReadState(ctx context.Context) (entity.UnreadTable, entity.ReadCursors, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(unreadCollection)

	var doc unreadDoc
	err = collection.FindOne(ctx, bson.D{{Key: "_id", Value: unreadDocID}}).Decode(&doc)
	if err != nil {
		if ferr := m.findError(err); ferr != nil {
			return nil, nil, ferr
		}
		return entity.UnreadTable{}, entity.ReadCursors{}, nil
	}
	if doc.Table == nil {
		doc.Table = entity.UnreadTable{}
	}
	if doc.ReadAt == nil {
		doc.ReadAt = entity.ReadCursors{}
	}
	return doc.Table, doc.ReadAt, nil
}

// WriteState replaces the persisted unread state with the given one.
func (m *MongoDB) WriteState(ctx context.Context, table entity.UnreadTable, readAt entity.ReadCursors) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(unreadCollection)

	doc := unreadDoc{ID: unreadDocID, Table: table, ReadAt: readAt}
	opts := options.Replace().SetUpsert(true)
	if _, err = collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: unreadDocID}}, doc, opts); err != nil {
		return fmt.Errorf("mongodb write unread state: %w", err)
	}
	return nil
}
