package obs

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountersAndHandler(t *testing.T) {
	m := NewMetrics()
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.Relayed("message")
	m.Relayed("message")
	m.Dropped("typing", "queue_full")
	m.ObserveSend("ok")
	m.RoomsActive(3)

	if got := testutil.ToFloat64(m.connections); got != 1 {
		t.Fatalf("connections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.relayed.WithLabelValues("message")); got != 2 {
		t.Fatalf("relayed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rooms); got != 3 {
		t.Fatalf("rooms = %v, want 3", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"rentchat_gateway_connections 1",
		`rentchat_gateway_events_dropped_total{kind="typing",reason="queue_full"} 1`,
		`rentchat_messages_sends_total{outcome="ok"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConnOpened()
	m.Relayed("message")
	m.ObserveSend("ok")
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, "production", nil).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("expected json line, got %q", buf.String())
	}
	buf.Reset()
	NewLoggerTo(&buf, "dev", nil).Info("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected text line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		" WARN ": slog.LevelWarn,
		"error":  slog.LevelError,
		"":       slog.LevelInfo,
		"loud":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
