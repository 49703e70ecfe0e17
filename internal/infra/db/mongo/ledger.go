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

const ledgerCollection = "chat_send_ledger"

// ledgerTTL bounds how long a client message id is remembered.
const ledgerTTL = 7 * 24 * time.Hour

type SendLedger struct {
	col *mongo.Collection
}

func NewSendLedger(db *mongo.Database) *SendLedger {
	return &SendLedger{col: db.Collection(ledgerCollection)}
}

func ensureLedgerIndexes(ctx context.Context, col *mongo.Collection) error {
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(ledgerTTL.Seconds())),
	})
	return err
}

func (l *SendLedger) Lookup(ctx context.Context, key string) (domainchat.MessageID, bool, error) {
	var doc ledgerDocument
	if err := l.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	return domainchat.MessageID(doc.MessageID), true, nil
}

func (l *SendLedger) Remember(ctx context.Context, key string, id domainchat.MessageID) error {
	doc := ledgerDocument{Key: key, MessageID: string(id), CreatedAt: time.Now().UTC()}
	_, err := l.col.InsertOne(ctx, doc)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

type ledgerDocument struct {
	Key       string    `bson:"_id"`
	MessageID string    `bson:"message_id"`
	CreatedAt time.Time `bson:"created_at"`
}
