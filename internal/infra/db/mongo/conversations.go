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

const conversationsCollection = "chat_conversations"

type ConversationStore struct {
	col *mongo.Collection
}

func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{col: db.Collection(conversationsCollection)}
}

func ensureConversationIndexes(ctx context.Context, col *mongo.Collection) error {
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "listing_id", Value: 1}, {Key: "participant_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_listing_participants"),
		},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_activity_at", Value: -1}}},
	})
	return err
}

func (s *ConversationStore) FindOrCreate(ctx context.Context, draft domainchat.Conversation) (domainchat.Conversation, bool, error) {
	doc := newConversationDocument(draft)
	filter := bson.M{"listing_id": doc.ListingID, "participant_key": doc.ParticipantKey}
	update := bson.M{"$setOnInsert": doc}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var stored conversationDocument
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.Conversation{}, false, domainchat.ErrKeyConflict
		}
		return domainchat.Conversation{}, false, domainchat.Transient("find or create conversation", err)
	}
	return stored.toDomain(), stored.ID == doc.ID, nil
}

func (s *ConversationStore) ByID(ctx context.Context, id domainchat.ConversationID) (domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domainchat.Conversation{}, domainchat.NotFoundf("conversation %q", id)
		}
		return domainchat.Conversation{}, domainchat.Transient("load conversation", err)
	}
	return doc.toDomain(), nil
}

func (s *ConversationStore) ByListing(ctx context.Context, listingID, userID string) ([]domainchat.Conversation, error) {
	return s.find(ctx, bson.M{"listing_id": listingID, "participants": userID})
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	return s.find(ctx, bson.M{"participants": userID, "active": true})
}

func (s *ConversationStore) RecordLastMessage(ctx context.Context, msg domainchat.Message) error {
	at := msg.CreatedAt.UTC()
	filter := bson.M{"_id": string(msg.ConversationID), "last_activity_at": bson.M{"$lte": at}}
	update := bson.M{"$set": bson.M{
		"last_message_id":        string(msg.ID),
		"last_message_sender_id": msg.SenderID,
		"last_message_preview":   domainchat.Preview(msg.Content),
		"last_message_at":        at,
		"last_activity_at":       at,
	}}
	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return domainchat.Transient("record last message", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.col.CountDocuments(ctx, bson.M{"_id": string(msg.ConversationID)})
	if err != nil {
		return domainchat.Transient("record last message", err)
	}
	if n == 0 {
		return domainchat.NotFoundf("conversation %q", msg.ConversationID)
	}
	return nil
}

func (s *ConversationStore) find(ctx context.Context, filter bson.M) ([]domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, domainchat.Transient("find conversations", err)
	}
	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domainchat.Transient("decode conversations", err)
	}
	out := make([]domainchat.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

type conversationDocument struct {
	ID                  string    `bson:"_id"`
	ListingID           string    `bson:"listing_id"`
	Participants        []string  `bson:"participants"`
	ParticipantKey      string    `bson:"participant_key"`
	Active              bool      `bson:"active"`
	CreatedAt           time.Time `bson:"created_at"`
	LastMessageID       string    `bson:"last_message_id,omitempty"`
	LastMessageSenderID string    `bson:"last_message_sender_id,omitempty"`
	LastMessagePreview  string    `bson:"last_message_preview,omitempty"`
	LastMessageAt       time.Time `bson:"last_message_at,omitempty"`
	LastActivityAt      time.Time `bson:"last_activity_at"`
}

func newConversationDocument(c domainchat.Conversation) conversationDocument {
	return conversationDocument{
		ID:                  string(c.ID),
		ListingID:           c.ListingID,
		Participants:        append([]string(nil), c.Participants...),
		ParticipantKey:      c.ParticipantKey,
		Active:              c.Active,
		CreatedAt:           c.CreatedAt.UTC(),
		LastMessageID:       string(c.LastMessageID),
		LastMessageSenderID: c.LastMessageSenderID,
		LastMessagePreview:  c.LastMessagePreview,
		LastMessageAt:       c.LastMessageAt.UTC(),
		LastActivityAt:      c.LastActivity().UTC(),
	}
}

func (d conversationDocument) toDomain() domainchat.Conversation {
	conv := domainchat.Conversation{
		ID:                  domainchat.ConversationID(d.ID),
		ListingID:           d.ListingID,
		Participants:        append([]string(nil), d.Participants...),
		ParticipantKey:      d.ParticipantKey,
		Active:              d.Active,
		CreatedAt:           d.CreatedAt.UTC(),
		LastMessageID:       domainchat.MessageID(d.LastMessageID),
		LastMessageSenderID: d.LastMessageSenderID,
		LastMessagePreview:  d.LastMessagePreview,
	}
	if d.LastMessageID != "" {
		conv.LastMessageAt = d.LastMessageAt.UTC()
	}
	return conv
}

var _ domainchat.ConversationStore = (*ConversationStore)(nil)
