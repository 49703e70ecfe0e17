package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublishSetsKeyAndHeaders(t *testing.T) {
	cfg := NewConfig("rentchat-test")
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "chat.events.v1" {
			t.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "conv-1" {
			t.Errorf("unexpected key %q", key)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "content-type" {
			t.Errorf("unexpected headers %v", msg.Headers)
		}
		return nil
	})
	p := &Producer{sync: mock}
	err := p.Publish(context.Background(), "chat.events.v1", "conv-1", []byte(`{}`), map[string]string{"content-type": "application/cloudevents+json"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishWrapsFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewConfig(""))
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := &Producer{sync: mock}
	err := p.Publish(context.Background(), "chat.events.v1", "conv-1", []byte(`{}`), nil)
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	_ = p.Close()
}

func TestRecordHeadersSorted(t *testing.T) {
	hs := recordHeaders(map[string]string{"content-type": "a", "ce-type": "b", "traceparent": "c"})
	if len(hs) != 3 || string(hs[0].Key) != "ce-type" || string(hs[2].Key) != "traceparent" {
		t.Fatalf("unexpected headers %v", hs)
	}
}
