package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Client is a connected handle on the chat database.
type Client struct {
	DB *mongo.Database
}

// Connect dials uri and verifies the primary answers before returning.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("rentchat").
		SetRetryWrites(true).
		SetRetryReads(true).
		SetServerSelectionTimeout(connectTimeout)
	m, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := m.Ping(ctx, readpref.Primary()); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping %s: %w", database, err)
	}
	return &Client{DB: m.Database(database)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.Client().Ping(ctx, readpref.PrimaryPreferred())
}

func (c *Client) Close(ctx context.Context) error {
	return c.DB.Client().Disconnect(ctx)
}

// EnsureIndexes creates the indexes the chat stores rely on. The unique
// conversation key index is what makes find-or-create safe across
// processes.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if err := ensureConversationIndexes(ctx, c.DB.Collection(conversationsCollection)); err != nil {
		return err
	}
	if err := ensureMessageIndexes(ctx, c.DB.Collection(messagesCollection)); err != nil {
		return err
	}
	return ensureLedgerIndexes(ctx, c.DB.Collection(ledgerCollection))
}
