package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appoutbox "rentchat/internal/app/outbox"
	"rentchat/internal/infra/storage/memory"
)

type recordingProducer struct {
	mu     sync.Mutex
	fail   bool
	topics []string
	keys   []string
	bodies [][]byte
}

func (p *recordingProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, payload)
	return nil
}

type countingObserver struct {
	results map[string]int
}

func (o *countingObserver) ObservePublish(result string) {
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func TestWorkerDrainPublishesCloudEvents(t *testing.T) {
	box := memory.NewOutbox()
	ctx := context.Background()
	_ = box.Add(ctx, appoutbox.EventRecord{
		ID:         "ev-1",
		Name:       "chat.message_sent",
		Payload:    []byte(`{"message_id":"m-1"}`),
		Aggregate:  "conv-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	producer := &recordingProducer{}
	observer := &countingObserver{}
	w := &Worker{Store: box, Producer: producer, TopicPrefix: "dev.", Observer: observer}

	n, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 delivered, got %d", n)
	}
	if producer.topics[0] != "dev.chat.events.v1" {
		t.Fatalf("unexpected topic %q", producer.topics[0])
	}
	if producer.keys[0] != "conv-1" {
		t.Fatalf("expected conversation key, got %q", producer.keys[0])
	}
	var evt map[string]any
	if err := json.Unmarshal(producer.bodies[0], &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt["type"] != "chat.message_sent.v1" || evt["id"] != "ev-1" {
		t.Fatalf("unexpected envelope %v", evt)
	}
	data, _ := evt["data"].(map[string]any)
	if data["message_id"] != "m-1" {
		t.Fatalf("expected payload to be embedded, got %v", evt["data"])
	}
	if box.Pending() != 0 {
		t.Fatalf("expected nothing pending, got %d", box.Pending())
	}
	if observer.results["sent"] != 1 {
		t.Fatalf("expected one sent observation, got %v", observer.results)
	}
}

func TestWorkerReschedulesFailures(t *testing.T) {
	box := memory.NewOutbox()
	ctx := context.Background()
	_ = box.Add(ctx, appoutbox.EventRecord{ID: "ev-1", Name: "chat.message_sent", Payload: []byte(`{}`)})
	producer := &recordingProducer{fail: true}
	observer := &countingObserver{}
	w := &Worker{Store: box, Producer: producer, Backoff: []time.Duration{time.Hour}, Observer: observer}

	n, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing delivered, got %d", n)
	}
	if box.Pending() != 1 {
		t.Fatalf("expected record to stay pending, got %d", box.Pending())
	}
	if again, _ := box.Claim(ctx, "other"); again != nil {
		t.Fatal("expected failed record to wait for backoff")
	}
	if observer.results["failed"] != 1 {
		t.Fatalf("expected one failed observation, got %v", observer.results)
	}
}

func TestTopicFor(t *testing.T) {
	w := &Worker{}
	cases := map[string]string{
		"chat.message_sent":         "chat.events.v1",
		"chat.conversation_started": "chat.events.v1",
		"plain":                     "plain.events.v1",
	}
	for in, want := range cases {
		if got := w.topicFor(in); got != want {
			t.Errorf("topicFor(%q) = %q, want %q", in, got, want)
		}
	}
}
