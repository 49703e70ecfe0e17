package outbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

func (e stubEvent) EventName() string     { return e.Name }
func (e stubEvent) AggregateID() string   { return "agg-1" }
func (e stubEvent) OccurredAt() time.Time { return e.At }

type sliceBox struct {
	records []EventRecord
	failOn  string
}

func (b *sliceBox) Add(_ context.Context, rec EventRecord) error {
	if rec.Name == b.failOn {
		return errors.New("boom")
	}
	b.records = append(b.records, rec)
	return nil
}

func TestEnqueueEncodesInOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	n := 0
	enc := JSONEncoder{NewID: func() string { n++; return "ev-" + string(rune('0'+n)) }}
	box := &sliceBox{}
	if err := Enqueue(context.Background(), box, enc, stubEvent{Name: "a", At: at}, stubEvent{Name: "b", At: at}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(box.records) != 2 || box.records[0].Name != "a" || box.records[1].ID != "ev-2" {
		t.Fatalf("unexpected records %+v", box.records)
	}
	rec := box.records[0]
	if rec.Aggregate != "agg-1" || rec.OccurredAt.Location() != time.UTC || string(rec.Payload) == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestEnqueueStopsAtFirstFailure(t *testing.T) {
	box := &sliceBox{failOn: "a"}
	err := Enqueue(context.Background(), box, nil, stubEvent{Name: "a"}, stubEvent{Name: "b"})
	if err == nil || len(box.records) != 0 {
		t.Fatalf("expected failure before b, got %v with %d records", err, len(box.records))
	}
	if err := Enqueue(context.Background(), nil, nil, stubEvent{Name: "a"}); err != nil {
		t.Fatalf("nil box should discard, got %v", err)
	}
}
