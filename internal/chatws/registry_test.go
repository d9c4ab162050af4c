package chatws

import (
	"context"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeSocket struct {
	mu     sync.Mutex
	closed bool
	writes [][]byte
}

func (f *fakeSocket) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, p)
	return nil
}

func (f *fakeSocket) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRegistry_RegisterReplacesAndCloses(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	first, second := &fakeSocket{}, &fakeSocket{}

	reg.Register("web:a:1", first)
	reg.Register("web:a:1", second)

	if !first.closed {
		t.Error("replaced socket was not closed")
	}
	if reg.Get("web:a:1") != second {
		t.Error("Get() did not return the newest socket")
	}

	// A stale unregister leaves the replacement in place.
	reg.Unregister("web:a:1", first)
	if reg.Get("web:a:1") != second {
		t.Error("stale Unregister removed the active socket")
	}
	reg.Unregister("web:a:1", second)
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestRegistry_NotifyAndCloseAll(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	a, b := &fakeSocket{}, &fakeSocket{}
	reg.Register("web:a:1", a)
	reg.Register("web:b:1", b)

	if !reg.Notify("web:a:1", Frame{Type: FrameReset}) {
		t.Fatal("Notify() = false")
	}
	if len(a.writes) != 1 || string(a.writes[0]) != `{"type":"reset"}` {
		t.Errorf("writes = %q", a.writes)
	}

	reg.CloseAll()
	if !a.closed || !b.closed || reg.Count() != 0 {
		t.Error("CloseAll() left sockets open")
	}
}
