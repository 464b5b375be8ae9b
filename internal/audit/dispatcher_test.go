package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// nil receiver must be usable
	d.Emit(context.Background(), Event{Action: ActionLogin})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero counts")
	}
}

func TestDispatcherDeliversAndStampsTime(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{Action: ActionLogin, ClientID: "c1", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.Action != ActionLogin || ev.ClientID != "c1" || !ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, ev Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogout})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected some events to be dropped")
	}

	close(sink.release)
	d.Close()

	sink.mu.Lock()
	n := len(sink.got)
	sink.mu.Unlock()
	if uint64(n)+d.Dropped() != 10 {
		t.Fatalf("delivered %d + dropped %d != 10", n, d.Dropped())
	}
	if d.Delivered() != uint64(n) {
		t.Fatalf("delivered counter %d, sink saw %d", d.Delivered(), n)
	}
}

func TestCloseFlushesQueue(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Action: ActionSignup, ClientID: "c"})
	}
	d.Close()
	d.Emit(context.Background(), Event{Action: ActionSignup})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Action != ActionSignup || ev.ClientID != "c" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
