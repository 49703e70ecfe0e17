package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/storage/storetest"
)

func TestChatStores(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := Connect(ctx, uri, "rentchat_test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	storetest.Run(t, func(t *testing.T) (domainchat.ConversationStore, domainchat.MessageStore) {
		return NewConversationStore(client.DB), NewMessageStore(client.DB)
	})
}
