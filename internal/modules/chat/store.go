// README: MongoDB persistence for chat messages (collection "chats").
package chat

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"roadside/internal/types"
)

const collectionName = "chats"

type Store struct {
	coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the history index; safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "requestId", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create chats index: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, m *Message) error {
	ctx, span := otel.Tracer("roadside/chat").Start(ctx, "MongoInsertMessage")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", m.RequestID.String()))

	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert message")
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// History returns the room's messages oldest first; _id breaks timestamp ties.
func (s *Store) History(ctx context.Context, requestID types.ID) ([]*Message, error) {
	ctx, span := otel.Tracer("roadside/chat").Start(ctx, "MongoHistory")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID.String()))

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"requestId": requestID}, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find messages")
		return nil, fmt.Errorf("find chat messages: %w", err)
	}
	defer cur.Close(ctx)

	out := []*Message{}
	if err := cur.All(ctx, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode chat messages: %w", err)
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}
