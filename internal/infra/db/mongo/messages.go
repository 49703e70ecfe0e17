package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "rentchat/internal/domain/chat"
)

const messagesCollection = "chat_messages"

type MessageStore struct {
	col *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{col: db.Collection(messagesCollection)}
}

func ensureMessageIndexes(ctx context.Context, col *mongo.Collection) error {
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "read", Value: 1}}},
	})
	return err
}

func (s *MessageStore) Append(ctx context.Context, msg domainchat.Message) error {
	if _, err := s.col.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.Invalidf("message %q already stored", msg.ID)
		}
		return domainchat.Transient("append message", err)
	}
	return nil
}

func (s *MessageStore) ByID(ctx context.Context, id domainchat.MessageID) (domainchat.Message, error) {
	var doc messageDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domainchat.Message{}, domainchat.NotFoundf("message %q", id)
		}
		return domainchat.Message{}, domainchat.Transient("load message", err)
	}
	return doc.toDomain(), nil
}

func (s *MessageStore) Page(ctx context.Context, conversationID domainchat.ConversationID, offset, limit int) ([]domainchat.Message, int, error) {
	filter := bson.M{"conversation_id": string(conversationID)}
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, domainchat.Transient("count messages", err)
	}
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, domainchat.Transient("page messages", err)
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, domainchat.Transient("decode messages", err)
	}
	out := make([]domainchat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, int(total), nil
}

func (s *MessageStore) MarkRead(ctx context.Context, id domainchat.MessageID, at time.Time) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": string(id), "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": at.UTC()}},
	)
	if err != nil {
		return false, domainchat.Transient("mark message read", err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return false, domainchat.Transient("mark message read", err)
	}
	if n == 0 {
		return false, domainchat.NotFoundf("message %q", id)
	}
	return false, nil
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID domainchat.ConversationID, recipientID string, at time.Time) (int, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"conversation_id": string(conversationID), "recipient_id": recipientID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": at.UTC()}},
	)
	if err != nil {
		return 0, domainchat.Transient("mark conversation read", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID domainchat.ConversationID, recipientID string) (int, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{"conversation_id": string(conversationID), "recipient_id": recipientID, "read": false})
	if err != nil {
		return 0, domainchat.Transient("count unread", err)
	}
	return int(n), nil
}

type messageDocument struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversation_id"`
	ListingID      string     `bson:"listing_id"`
	SenderID       string     `bson:"sender_id"`
	RecipientID    string     `bson:"recipient_id"`
	Content        string     `bson:"content"`
	Kind           string     `bson:"kind"`
	ClientMsgID    string     `bson:"client_msg_id,omitempty"`
	Read           bool       `bson:"read"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func newMessageDocument(m domainchat.Message) messageDocument {
	doc := messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		ListingID:      m.ListingID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Kind:           string(m.Kind),
		ClientMsgID:    m.ClientMsgID,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt.UTC(),
	}
	if m.ReadAt != nil {
		at := m.ReadAt.UTC()
		doc.ReadAt = &at
	}
	return doc
}

func (d messageDocument) toDomain() domainchat.Message {
	msg := domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		ListingID:      d.ListingID,
		SenderID:       d.SenderID,
		RecipientID:    d.RecipientID,
		Content:        d.Content,
		Kind:           domainchat.Kind(d.Kind),
		ClientMsgID:    d.ClientMsgID,
		Read:           d.Read,
		CreatedAt:      d.CreatedAt.UTC(),
	}
	if d.ReadAt != nil {
		at := d.ReadAt.UTC()
		msg.ReadAt = &at
	}
	return msg
}

var _ domainchat.MessageStore = (*MessageStore)(nil)
