package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
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

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{BufferSize: 4}, sink)

	for _, typ := range []string{"login_success", "refresh_success", "logout"} {
		if !d.Emit(context.Background(), Event{EventType: typ}) {
			t.Fatalf("expected %s to be queued", typ)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, want := range []string{"login_success", "refresh_success", "logout"} {
		select {
		case got := <-sink.Events():
			if got.EventType != want {
				t.Fatalf("expected %s, got %s", want, got.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if d.Delivered() != 3 {
		t.Fatalf("expected 3 delivered, got %d", d.Delivered())
	}
	if d.Emit(context.Background(), Event{EventType: "late"}) {
		t.Fatal("expected closed dispatcher to refuse events")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{BufferSize: 1, DropIfFull: true}, sink)

	// One event may be held by the run goroutine and one in the buffer;
	// everything past that is dropped.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	if d.Dropped() < 8 {
		t.Fatalf("expected at least 8 dropped events, got %d", d.Dropped())
	}

	close(sink.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := d.Dropped() + d.Delivered(); got != 10 {
		t.Fatalf("expected dropped+delivered = 10, got %d", got)
	}
}

func TestDispatcherCloseHonorsContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{BufferSize: 1}, sink)
	d.Emit(context.Background(), Event{EventType: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); err == nil {
		t.Fatal("expected close to time out while the sink is blocked")
	}
	close(sink.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	if d.Emit(context.Background(), Event{}) {
		t.Fatal("nil dispatcher must not accept events")
	}
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher counters must be zero")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "login_success", IdentityID: "id-1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "login_failure"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.IdentityID != "id-1" || !first.Success {
		t.Fatalf("unexpected event %+v", first)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	sink.Emit(context.Background(), Event{
		EventType: "lockout_triggered",
		IP:        "203.0.113.7",
		Metadata:  map[string]string{"scope": "addr"},
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["level"] != "WARN" || rec["event_type"] != "lockout_triggered" || rec["meta.scope"] != "addr" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["component"] != "audit" {
		t.Fatalf("expected component attribute, got %v", rec)
	}
}
