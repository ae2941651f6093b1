package transport

import (
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages [][]byte
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan error, 2)}
}

func (h *recordingHandler) HandleMessage(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
}

func (h *recordingHandler) HandleClose(err error) {
	h.closed <- err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := Pipe()
	ha, hb := newRecordingHandler(), newRecordingHandler()
	a.Start(ha)
	b.Start(hb)

	for _, s := range []string{"one", "two", "three"} {
		if err := a.Send([]byte(s)); err != nil {
			t.Fatalf("send %q: %v", s, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for hb.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("got %d messages, want 3", hb.count())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	hb.mu.Lock()
	defer hb.mu.Unlock()
	want := []string{"one", "two", "three"}
	for i, msg := range hb.messages {
		if string(msg) != want[i] {
			t.Errorf("message %d = %q, want %q", i, msg, want[i])
		}
	}
}

func TestPipeCloseIsIdempotentAndMutual(t *testing.T) {
	a, b := Pipe()
	ha, hb := newRecordingHandler(), newRecordingHandler()
	a.Start(ha)
	b.Start(hb)

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case <-ha.closed:
	case <-time.After(time.Second):
		t.Fatal("a never saw close")
	}
	select {
	case <-hb.closed:
	case <-time.After(time.Second):
		t.Fatal("b never saw close")
	}

	// Exactly one close event per side.
	select {
	case <-ha.closed:
		t.Fatal("a saw a second close event")
	default:
	}

	if err := a.Send([]byte("late")); err != ErrClosed {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
}
