package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and buffer of 1")
	}

	close(sink.release)
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if uint64(len(sink.got))+d.Dropped() != 10 {
		t.Fatalf("delivered %d + dropped %d != 10", len(sink.got), d.Dropped())
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports no drops")
	}
}

func TestDispatcherCloseFlushes(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_success"})
	}
	d.Close()

	if got := len(sink.Events()); got != 3 {
		t.Fatalf("expected 3 flushed events, got %d", got)
	}
	d.Emit(context.Background(), Event{EventType: "after_close"})
	if got := len(sink.Events()); got != 3 {
		t.Fatal("emit after close must be ignored")
	}
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("sink exploded") }

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{})
	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Close()

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	// one event in the sink, one in the buffer
	d.Emit(context.Background(), Event{EventType: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for len(d.events) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "c"})
	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected the timed-out emit to be dropped, got %d", got)
	}

	close(sink.release)
	d.Close()
	if len(sink.got) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(sink.got))
	}
}

func TestZerologSinkWritesReason(t *testing.T) {
	var buf bytes.Buffer
	sink := NewZerologSink(zerolog.New(&buf))

	sink.Emit(context.Background(), Event{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		EventType: "login_failure",
		UserID:    "u1",
		IP:        "10.0.0.1",
		Error:     "invalid_credentials",
		Reason:    "password_mismatch",
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["level"] != "warn" || line["event"] != "login_failure" || line["reason"] != "password_mismatch" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["component"] != "audit" {
		t.Fatalf("missing component field: %v", line)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{EventType: "logout", Success: true})

	var e Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if e.EventType != "logout" || !e.Success {
		t.Fatalf("unexpected event %+v", e)
	}
}
