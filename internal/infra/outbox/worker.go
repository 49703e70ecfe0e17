package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "rentchat/internal/app/outbox"
)

// PublishObserver receives the result of every publish attempt.
type PublishObserver interface {
	ObservePublish(result string)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker drains an outbox queue into the event bus. Each tick publishes
// every due record; failed records are rescheduled with the backoff table.
type Worker struct {
	Store       appoutbox.Queue
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	Observer    PublishObserver
	Logger      *slog.Logger
}

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger().Warn("outbox.drain_failed", "error", err)
			}
		}
	}
}

// Drain publishes due records until the queue has nothing claimable and
// reports how many were delivered.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	sent := 0
	for {
		ok, delivered, err := w.processOnce(ctx)
		if err != nil || !ok {
			return sent, err
		}
		if delivered {
			sent++
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) (claimed bool, delivered bool, err error) {
	rec, err := w.Store.Claim(ctx, w.workerID())
	if err != nil || rec == nil {
		return false, false, err
	}
	topic := w.topicFor(rec.Name)
	payload, headers, err := w.formatPayload(rec)
	if err != nil {
		w.fail(ctx, rec, err)
		return true, false, nil
	}
	if err := w.Producer.Publish(ctx, topic, rec.Aggregate, payload, headers); err != nil {
		w.observe("failed")
		w.fail(ctx, rec, err)
		return true, false, nil
	}
	w.observe("sent")
	return true, true, w.Store.MarkSent(ctx, rec.ID)
}

func (w *Worker) fail(ctx context.Context, rec *appoutbox.Pending, cause error) {
	next := w.nextRetry(rec.Attempts)
	w.logger().Warn("outbox.publish_failed", "event_id", rec.ID, "event", rec.Name, "attempts", rec.Attempts, "retry_at", next, "error", cause)
	_ = w.Store.MarkFailed(ctx, rec.ID, next, cause.Error())
}

func (w *Worker) formatPayload(rec *appoutbox.Pending) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if err := json.Unmarshal(rec.Payload, &data); err != nil {
		return nil, nil, err
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              rec.ID,
		"type":            rec.Name + ".v1",
		"source":          w.source(),
		"subject":         rec.Aggregate,
		"time":            rec.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	if trace, ok := rec.Headers["traceparent"]; ok {
		evt["traceparent"] = trace
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
		"ce-type":      rec.Name + ".v1",
	}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

// topicFor maps "chat.message_sent" to "<prefix>chat.events.v1".
func (w *Worker) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	topic := base + ".events.v1"
	if w.TopicPrefix != "" {
		topic = w.TopicPrefix + topic
	}
	return topic
}

func (w *Worker) observe(result string) {
	if w.Observer != nil {
		w.Observer.ObservePublish(result)
	}
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return "outbox-worker"
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) nextRetry(attempts int) time.Time {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx < len(w.Backoff) {
		return time.Now().Add(w.Backoff[idx])
	}
	if len(w.Backoff) > 0 {
		return time.Now().Add(w.Backoff[len(w.Backoff)-1])
	}
	return time.Now().Add(5 * time.Second)
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return "app://rentchat"
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// LogProducer stands in for the event bus when no brokers are configured.
type LogProducer struct {
	Logger *slog.Logger
}

func (p LogProducer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbox.published", "topic", topic, "key", key, "bytes", len(payload))
	return nil
}
